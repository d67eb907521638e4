package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ToolPay-Chain/internal/payment"
)

// Config describes how to construct the chain client.
type Config struct {
	RPCURL    string
	ChainID   int64
	SignerKey string
}

// Client wraps an EVM RPC connection plus an optional signing identity.
type Client struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
	signer    *bind.TransactOpts
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NewClient dials the configured RPC endpoint. The signing key is optional;
// without it the client can read but not submit validation records.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接账本节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	client := &Client{rpcClient: rpcClient, eth: eth, chainID: chainID}

	if key := strings.TrimSpace(cfg.SignerKey); key != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
		signer, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("构建交易签名器失败: %w", err)
		}
		client.signer = signer
	}
	return client, nil
}

// HasSigner reports whether the client carries a usable signing identity.
func (c *Client) HasSigner() bool {
	return c != nil && c.signer != nil
}

// SignerAddress returns the address of the signing identity, or the zero
// address when no signer is configured.
func (c *Client) SignerAddress() common.Address {
	if !c.HasSigner() {
		return common.Address{}
	}
	return c.signer.From
}

// ChainID returns the chain identifier the client is connected to.
func (c *Client) ChainID() *big.Int {
	if c == nil || c.chainID == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c == nil || c.rpcClient == nil {
		return
	}
	c.rpcClient.Close()
	c.rpcClient = nil
	c.eth = nil
}

// PaymentTransaction fetches a transaction and its receipt and projects them
// onto the read-only view the payment gate verifies against. A pending
// transaction is returned with Confirmed=false rather than as an error.
func (c *Client) PaymentTransaction(ctx context.Context, txHash string) (*payment.Transfer, error) {
	txHash = strings.TrimSpace(txHash)
	if !txHashPattern.MatchString(txHash) {
		return nil, fmt.Errorf("非法的交易哈希: %s", txHash)
	}
	hash := common.HexToHash(txHash)

	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}

	transfer := &payment.Transfer{
		Hash:   hash.Hex(),
		Amount: new(big.Int).Set(tx.Value()),
	}
	if to := tx.To(); to != nil {
		transfer.To = to.Hex()
	}
	if from, err := coretypes.Sender(coretypes.LatestSignerForChainID(c.chainID), tx); err == nil {
		transfer.From = from.Hex()
	}
	if pending {
		return transfer, nil
	}

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("查询交易回执失败: %w", err)
	}
	transfer.Confirmed = receipt.Status == coretypes.ReceiptStatusSuccessful
	return transfer, nil
}
