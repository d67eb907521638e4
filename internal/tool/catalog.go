package tool

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor 是工具目录中的一条不可变记录，进程启动时加载，之后只读。
type Descriptor struct {
	ID               string  `yaml:"id" json:"id"`
	Description      string  `yaml:"description" json:"description"`
	URL              string  `yaml:"url" json:"url"`
	Method           string  `yaml:"method" json:"method"`
	EstimatedCostUSD float64 `yaml:"estimated_cost_usd" json:"estimated_cost_usd"`
}

// Catalog 按 ID 索引全部工具描述。
type Catalog struct {
	tools map[string]Descriptor
	order []string
}

// LoadCatalog 解析 YAML 工具目录文件。
func LoadCatalog(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工具目录失败: %w", err)
	}

	var file struct {
		Tools []Descriptor `yaml:"tools"`
	}
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析工具目录失败: %w", err)
	}
	return NewCatalog(file.Tools)
}

// NewCatalog 根据描述列表构建目录，重复 ID 视为配置错误。
func NewCatalog(tools []Descriptor) (*Catalog, error) {
	catalog := &Catalog{tools: make(map[string]Descriptor, len(tools))}
	for _, desc := range tools {
		id := strings.TrimSpace(desc.ID)
		if id == "" {
			return nil, fmt.Errorf("工具缺少 ID: %+v", desc)
		}
		if _, ok := catalog.tools[id]; ok {
			return nil, fmt.Errorf("工具 ID 重复: %s", id)
		}
		if strings.TrimSpace(desc.URL) == "" {
			return nil, fmt.Errorf("工具 %s 缺少 URL", id)
		}
		if desc.Method == "" {
			desc.Method = "GET"
		}
		desc.Method = strings.ToUpper(strings.TrimSpace(desc.Method))
		desc.ID = id
		catalog.tools[id] = desc
		catalog.order = append(catalog.order, id)
	}
	sort.Strings(catalog.order)
	return catalog, nil
}

// Lookup 返回指定 ID 的工具描述。
func (c *Catalog) Lookup(id string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	desc, ok := c.tools[strings.TrimSpace(id)]
	return desc, ok
}

// All 返回按 ID 排序的全部工具描述。
func (c *Catalog) All() []Descriptor {
	if c == nil {
		return nil
	}
	result := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.tools[id])
	}
	return result
}

// Serialize 把目录编码为 JSON，供提示词拼接使用。上游地址不暴露给模型。
func (c *Catalog) Serialize() string {
	type entry struct {
		ID          string  `json:"tool"`
		Description string  `json:"description"`
		CostUSD     float64 `json:"cost_usd"`
	}
	entries := make([]entry, 0, len(c.order))
	for _, desc := range c.All() {
		entries = append(entries, entry{
			ID:          desc.ID,
			Description: desc.Description,
			CostUSD:     desc.EstimatedCostUSD,
		})
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
