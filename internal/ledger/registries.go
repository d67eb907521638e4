package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	xerrors "ToolPay-Chain/internal/errors"
)

// Contract ABIs cover only the entry points this system consumes. The
// registries themselves are plain data stores and are not specified here.
const (
	identityRegistryABI = `[{"type":"function","name":"getAgentIdentity","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"uri","type":"string"},{"name":"capabilities","type":"string[]"},{"name":"owner","type":"address"},{"name":"createdAt","type":"uint256"},{"name":"active","type":"bool"}]}]`

	reputationRegistryABI = `[{"type":"function","name":"getSummary","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"}],"outputs":[{"name":"totalFeedbacks","type":"uint256"},{"name":"verifiedFeedbacks","type":"uint256"},{"name":"averageRating","type":"uint256"}]},{"type":"function","name":"getFeedback","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"},{"name":"index","type":"uint256"}],"outputs":[{"name":"rater","type":"address"},{"name":"rating","type":"uint8"},{"name":"comment","type":"string"},{"name":"verified","type":"bool"},{"name":"createdAt","type":"uint256"}]}]`

	validationRegistryABI = `[{"type":"function","name":"recordValidation","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"uint256"},{"name":"taskId","type":"string"},{"name":"outputHash","type":"bytes32"},{"name":"proofHash","type":"bytes32"},{"name":"validator","type":"address"},{"name":"validationType","type":"string"},{"name":"isValid","type":"bool"},{"name":"metadataURI","type":"string"}],"outputs":[{"name":"validationId","type":"uint256"}]},{"type":"function","name":"getValidationByTask","stateMutability":"view","inputs":[{"name":"taskId","type":"string"}],"outputs":[{"name":"validationId","type":"uint256"},{"name":"exists","type":"bool"}]},{"type":"function","name":"getValidationsByOutput","stateMutability":"view","inputs":[{"name":"outputHash","type":"bytes32"}],"outputs":[{"name":"validationIds","type":"uint256[]"}]}]`

	paymentContractABI = `[{"type":"event","name":"PaymentReceived","anonymous":false,"inputs":[{"name":"payer","type":"address","indexed":true},{"name":"serviceId","type":"string","indexed":false},{"name":"requestId","type":"string","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}]`
)

// Contracts lists the deployed registry addresses. Empty entries disable the
// corresponding feature instead of failing startup.
type Contracts struct {
	Identity   string
	Reputation string
	Validation string
	Payment    string
}

// AgentIdentity mirrors the identity registry read path.
type AgentIdentity struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	URI          string   `json:"uri"`
	Capabilities []string `json:"capabilities"`
	Owner        string   `json:"owner"`
	CreatedAt    int64    `json:"created_at"`
	Active       bool     `json:"active"`
}

// ReputationSummary is the aggregate read from the reputation registry.
// AverageRating is stored on-chain scaled by 100.
type ReputationSummary struct {
	TotalFeedbacks    int64   `json:"total_feedbacks"`
	VerifiedFeedbacks int64   `json:"verified_feedbacks"`
	AverageRating     float64 `json:"average_rating"`
}

// Feedback is a single reputation entry.
type Feedback struct {
	Rater     string `json:"rater"`
	Rating    uint8  `json:"rating"`
	Comment   string `json:"comment"`
	Verified  bool   `json:"verified"`
	CreatedAt int64  `json:"created_at"`
}

// ValidationSubmission carries one validation record write.
type ValidationSubmission struct {
	AgentID        uint64
	TaskID         string
	OutputHash     [32]byte
	ProofHash      [32]byte
	ValidationType string
	IsValid        bool
	MetadataURI    string
}

// PaymentEvent is one payment observed on the payment contract.
type PaymentEvent struct {
	Payer     string   `json:"payer"`
	ServiceID string   `json:"service_id"`
	RequestID string   `json:"request_id"`
	Amount    *big.Int `json:"amount"`
	TxHash    string   `json:"tx_hash"`
}

// Registries exposes the registry contracts behind typed methods.
type Registries struct {
	client     *Client
	identity   *bind.BoundContract
	reputation *bind.BoundContract
	validation *bind.BoundContract
	payment    *bind.BoundContract
	paymentABI abi.ABI
	payAddress common.Address
}

// NewRegistries parses the embedded ABIs and binds the configured contracts.
func NewRegistries(client *Client, contracts Contracts) (*Registries, error) {
	if client == nil || client.eth == nil {
		return nil, errors.New("未初始化的账本客户端")
	}
	r := &Registries{client: client}

	bindContract := func(address, abiJSON string) (*bind.BoundContract, abi.ABI, error) {
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			return nil, abi.ABI{}, fmt.Errorf("解析合约 ABI 失败: %w", err)
		}
		if strings.TrimSpace(address) == "" {
			return nil, parsed, nil
		}
		if !common.IsHexAddress(address) {
			return nil, parsed, fmt.Errorf("非法的合约地址: %s", address)
		}
		addr := common.HexToAddress(address)
		return bind.NewBoundContract(addr, parsed, client.eth, client.eth, client.eth), parsed, nil
	}

	var err error
	if r.identity, _, err = bindContract(contracts.Identity, identityRegistryABI); err != nil {
		return nil, err
	}
	if r.reputation, _, err = bindContract(contracts.Reputation, reputationRegistryABI); err != nil {
		return nil, err
	}
	if r.validation, _, err = bindContract(contracts.Validation, validationRegistryABI); err != nil {
		return nil, err
	}
	if r.payment, r.paymentABI, err = bindContract(contracts.Payment, paymentContractABI); err != nil {
		return nil, err
	}
	if r.payment != nil {
		r.payAddress = common.HexToAddress(contracts.Payment)
	}
	return r, nil
}

// CanRecordValidations reports whether validation writes are possible, i.e.
// the validation registry is bound and a signer is configured.
func (r *Registries) CanRecordValidations() bool {
	return r != nil && r.validation != nil && r.client.HasSigner()
}

// AgentIdentity reads the configured agent's identity entry.
func (r *Registries) AgentIdentity(ctx context.Context, tokenID uint64) (*AgentIdentity, error) {
	if r == nil || r.identity == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置身份注册表合约")
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.identity.Call(opts, &out, "getAgentIdentity", new(big.Int).SetUint64(tokenID)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "读取身份注册表失败")
	}
	if len(out) != 7 {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, "身份注册表返回值数量不符")
	}
	return &AgentIdentity{
		Name:         out[0].(string),
		Description:  out[1].(string),
		URI:          out[2].(string),
		Capabilities: out[3].([]string),
		Owner:        out[4].(common.Address).Hex(),
		CreatedAt:    out[5].(*big.Int).Int64(),
		Active:       out[6].(bool),
	}, nil
}

// ReputationSummary reads the aggregate feedback counters.
func (r *Registries) ReputationSummary(ctx context.Context, agentID uint64) (*ReputationSummary, error) {
	if r == nil || r.reputation == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置信誉注册表合约")
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.reputation.Call(opts, &out, "getSummary", new(big.Int).SetUint64(agentID)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "读取信誉注册表失败")
	}
	if len(out) != 3 {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, "信誉注册表返回值数量不符")
	}
	return &ReputationSummary{
		TotalFeedbacks:    out[0].(*big.Int).Int64(),
		VerifiedFeedbacks: out[1].(*big.Int).Int64(),
		AverageRating:     float64(out[2].(*big.Int).Int64()) / 100,
	}, nil
}

// FeedbackAt reads a single feedback entry by index.
func (r *Registries) FeedbackAt(ctx context.Context, agentID, index uint64) (*Feedback, error) {
	if r == nil || r.reputation == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置信誉注册表合约")
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.reputation.Call(opts, &out, "getFeedback", new(big.Int).SetUint64(agentID), new(big.Int).SetUint64(index)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "读取反馈详情失败")
	}
	if len(out) != 5 {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, "反馈详情返回值数量不符")
	}
	return &Feedback{
		Rater:     out[0].(common.Address).Hex(),
		Rating:    out[1].(uint8),
		Comment:   out[2].(string),
		Verified:  out[3].(bool),
		CreatedAt: out[4].(*big.Int).Int64(),
	}, nil
}

// ValidationByTask returns the validation id recorded for a task, if any.
func (r *Registries) ValidationByTask(ctx context.Context, taskID string) (uint64, bool, error) {
	if r == nil || r.validation == nil {
		return 0, false, xerrors.New(xerrors.CodeInitializationFailure, "未配置验证注册表合约")
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.validation.Call(opts, &out, "getValidationByTask", taskID); err != nil {
		return 0, false, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "读取验证记录失败")
	}
	if len(out) != 2 {
		return 0, false, xerrors.New(xerrors.CodeLedgerFailure, "验证记录返回值数量不符")
	}
	return out[0].(*big.Int).Uint64(), out[1].(bool), nil
}

// RecordValidation submits a validation record and waits for on-chain
// confirmation. The registry enforces at most one record per task id; a
// duplicate surfaces as CodeProofDuplicate, distinct from transport failures.
func (r *Registries) RecordValidation(ctx context.Context, sub ValidationSubmission) (string, error) {
	if r == nil || r.validation == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置验证注册表合约")
	}
	if !r.client.HasSigner() {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置签名身份")
	}

	if _, exists, err := r.ValidationByTask(ctx, sub.TaskID); err == nil && exists {
		return "", xerrors.New(xerrors.CodeProofDuplicate, fmt.Sprintf("任务 %s 已存在验证记录", sub.TaskID))
	}

	opts := *r.client.signer
	opts.Context = ctx
	tx, err := r.validation.Transact(&opts, "recordValidation",
		new(big.Int).SetUint64(sub.AgentID),
		sub.TaskID,
		sub.OutputHash,
		sub.ProofHash,
		r.client.SignerAddress(),
		sub.ValidationType,
		sub.IsValid,
		sub.MetadataURI,
	)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeLedgerFailure, err, "提交验证记录失败")
	}

	receipt, err := bind.WaitMined(ctx, r.client.eth, tx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTimeout, err, "等待验证记录确认失败")
	}
	if receipt.Status != 1 {
		// 回滚通常意味着注册表层面的冲突，复查任务是否已被记录。
		if _, exists, checkErr := r.ValidationByTask(ctx, sub.TaskID); checkErr == nil && exists {
			return "", xerrors.New(xerrors.CodeProofDuplicate, fmt.Sprintf("任务 %s 已存在验证记录", sub.TaskID))
		}
		return "", xerrors.New(xerrors.CodeLedgerFailure, "验证记录交易被回滚")
	}

	validationID, _, err := r.ValidationByTask(ctx, sub.TaskID)
	if err != nil {
		return tx.Hash().Hex(), nil
	}
	return fmt.Sprintf("%d", validationID), nil
}

// PaymentsByPayer queries payment events emitted for the given payer address.
func (r *Registries) PaymentsByPayer(ctx context.Context, payer string, fromBlock uint64) ([]PaymentEvent, error) {
	if r == nil || r.payment == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置支付合约")
	}
	if !common.IsHexAddress(payer) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的付款方地址: %s", payer))
	}
	event, ok := r.paymentABI.Events["PaymentReceived"]
	if !ok {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, "支付合约 ABI 缺少事件定义")
	}

	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{r.payAddress},
		Topics: [][]common.Hash{
			{event.ID},
			{payerTopic(common.HexToAddress(payer))},
		},
	}
	logs, err := r.client.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询支付事件失败")
	}

	events := make([]PaymentEvent, 0, len(logs))
	for _, entry := range logs {
		var decoded struct {
			Payer     common.Address
			ServiceId string
			RequestId string
			Amount    *big.Int
		}
		if err := r.payment.UnpackLog(&decoded, "PaymentReceived", entry); err != nil {
			continue
		}
		events = append(events, PaymentEvent{
			Payer:     decoded.Payer.Hex(),
			ServiceID: decoded.ServiceId,
			RequestID: decoded.RequestId,
			Amount:    decoded.Amount,
			TxHash:    entry.TxHash.Hex(),
		})
	}
	return events, nil
}

// payerTopic left-pads the payer address to the 32-byte topic form used for
// indexed address parameters in event logs.
func payerTopic(payer common.Address) common.Hash {
	return common.BytesToHash(payer.Bytes())
}
