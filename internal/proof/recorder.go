package proof

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ToolPay-Chain/internal/errors"
	"ToolPay-Chain/internal/ledger"
	"ToolPay-Chain/pkg/logger"
)

// ValidationWriter 是 Recorder 需要的账本写接口。
type ValidationWriter interface {
	CanRecordValidations() bool
	RecordValidation(ctx context.Context, sub ledger.ValidationSubmission) (string, error)
}

// Status 表示一次存证的结果。
type Status string

const (
	StatusRecorded Status = "recorded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome 汇总一次存证尝试。
type Outcome struct {
	Status     Status `json:"status"`
	ProofID    string `json:"proof_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	OutputHash string `json:"output_hash,omitempty"`
}

// document 是被哈希并提交存证的规范化输出文档。字段顺序固定，
// 同样的输入总是产生同样的哈希。
type document struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Result     any            `json:"result"`
	Timestamp  int64          `json:"timestamp"`
	PaymentRef string         `json:"payment_ref,omitempty"`
}

// Recorder 把工具执行结果写入链上验证注册表。
type Recorder struct {
	writer  ValidationWriter
	agentID uint64
	log     *slog.Logger
}

// NewRecorder 构造存证器。agentID 为零表示未配置链上身份，所有
// 存证请求直接返回 skipped。
func NewRecorder(writer ValidationWriter, agentID uint64) *Recorder {
	return &Recorder{
		writer:  writer,
		agentID: agentID,
		log:     logger.Named("proof-recorder"),
	}
}

// Record 为一次成功的工具执行生成验证记录。
//
// 未配置链上身份或签名器时返回 skipped；注册表已存在同名任务记录
// 返回 CodeProofDuplicate；其余失败返回 failed 及对应错误。
func (r *Recorder) Record(ctx context.Context, toolID string, args map[string]any, result any, paymentRef string) (*Outcome, error) {
	if r == nil || r.writer == nil || r.agentID == 0 || !r.writer.CanRecordValidations() {
		return &Outcome{Status: StatusSkipped}, nil
	}

	now := time.Now()
	taskID := newTaskID(toolID, now)

	doc := document{
		Tool:       toolID,
		Args:       args,
		Result:     result,
		Timestamp:  now.Unix(),
		PaymentRef: paymentRef,
	}
	encodedDoc, err := json.Marshal(doc)
	if err != nil {
		return &Outcome{Status: StatusFailed}, xerrors.Wrap(xerrors.CodeProofFailure, err, "序列化存证文档失败")
	}
	encodedResult, err := json.Marshal(result)
	if err != nil {
		return &Outcome{Status: StatusFailed}, xerrors.Wrap(xerrors.CodeProofFailure, err, "序列化工具输出失败")
	}

	outputHash := sha256.Sum256(encodedResult)
	proofHash := sha256.Sum256(encodedDoc)

	proofID, err := r.writer.RecordValidation(ctx, ledger.ValidationSubmission{
		AgentID:        r.agentID,
		TaskID:         taskID,
		OutputHash:     outputHash,
		ProofHash:      proofHash,
		ValidationType: "tool_execution",
		IsValid:        true,
	})
	if err != nil {
		return &Outcome{Status: StatusFailed, TaskID: taskID}, err
	}

	outcome := &Outcome{
		Status:     StatusRecorded,
		ProofID:    proofID,
		TaskID:     taskID,
		OutputHash: fmt.Sprintf("%x", outputHash),
	}
	logger.Audit().Info("proof_recorded",
		"tool", toolID,
		"task_id", taskID,
		"proof_id", proofID,
		"output_hash", outcome.OutputHash,
	)
	return outcome, nil
}

// newTaskID 生成 tool_时间戳_随机后缀 形式的任务标识。随机后缀取自
// UUID，碰撞概率可忽略，但不是硬性全局唯一保证；注册表层的
// "每个任务至多一条记录" 约束兜底。
func newTaskID(toolID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", toolID, now.UnixMilli(), suffix)
}
