package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/registry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// 普通转账的固定 gas
const transferGasLimit = 21000

// Backend 转账和校验贡献需要的链上接口，*ethclient.Client 实现了它
type Backend interface {
	bind.DeployBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthConfig 链上托管配置
type EthConfig struct {
	RpcUrl     string
	PrivateKey string
	ChainId    int64
	WaitMined  bool // 是否等待交易上链
}

// EthCustody 链上托管：余额记在 Vault，提取时从托管账户发起转账
type EthCustody struct {
	vault      *Vault
	backend    Backend
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	waitMined  bool
}

// DialEthCustody 连接节点并创建链上托管
func DialEthCustody(cfg EthConfig, vault *Vault) (*EthCustody, error) {
	privateKey, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum client: %w", err)
	}

	return NewEthCustody(client, privateKey, big.NewInt(cfg.ChainId), vault, cfg.WaitMined), nil
}

// NewEthCustody 使用已有的链上接口创建托管
func NewEthCustody(backend Backend, privateKey *ecdsa.PrivateKey, chainID *big.Int, vault *Vault, waitMined bool) *EthCustody {
	return &EthCustody{
		vault:      vault,
		backend:    backend,
		privateKey: privateKey,
		chainID:    chainID,
		waitMined:  waitMined,
	}
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

// Address 托管账户地址，贡献资金转入此地址
func (e *EthCustody) Address() common.Address {
	return crypto.PubkeyToAddress(e.privateKey.PublicKey)
}

// Deposit 校验贡献者发往托管账户的转账后记入余额
//
// 交易必须已成功上链，由 from 签名，收款方是托管账户，金额与贡献金额完全相同。
func (e *EthCustody) Deposit(ctx context.Context, campaignID uint64, from common.Address, payment registry.Payment) error {
	if err := e.verifyPayment(ctx, from, payment); err != nil {
		return err
	}
	return e.vault.credit(campaignID, payment.Amount)
}

// Reverse 撤销一笔未能记账的贡献
func (e *EthCustody) Reverse(campaignID uint64, amount *big.Int) {
	e.vault.Reverse(campaignID, amount)
}

func (e *EthCustody) verifyPayment(ctx context.Context, from common.Address, payment registry.Payment) error {
	if payment.TxHash == (common.Hash{}) {
		return fmt.Errorf("%w: transaction hash is required", registry.ErrPaymentRejected)
	}
	hash := payment.TxHash.Hex()

	tx, pending, err := e.backend.TransactionByHash(ctx, payment.TxHash)
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: transaction %s not found", registry.ErrPaymentRejected, hash)
	}
	if err != nil {
		return fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	if pending {
		return fmt.Errorf("%w: transaction %s is pending", registry.ErrPaymentRejected, hash)
	}

	receipt, err := e.backend.TransactionReceipt(ctx, payment.TxHash)
	if err != nil {
		return fmt.Errorf("failed to get receipt of %s: %w", hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s failed on chain", registry.ErrPaymentRejected, hash)
	}

	if to := tx.To(); to == nil || *to != e.Address() {
		return fmt.Errorf("%w: transaction %s is not paid to custody %s", registry.ErrPaymentRejected, hash, e.Address().Hex())
	}
	if payment.Amount == nil || tx.Value().Cmp(payment.Amount) != 0 {
		return fmt.Errorf("%w: transaction %s carries %s wei, claimed %s", registry.ErrPaymentRejected, hash, tx.Value(), payment.Amount)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return fmt.Errorf("%w: transaction %s sender: %v", registry.ErrPaymentRejected, hash, err)
	}
	if sender != from {
		return fmt.Errorf("%w: transaction %s was sent by %s", registry.ErrPaymentRejected, hash, sender.Hex())
	}
	return nil
}

// Release 扣减托管余额并向活动所有者转账
//
// 交易确定没有转出时恢复余额并返回错误。交易已广播但等待确认失败时无法判断结果，
// 按已转出处理并记录日志，由人工对账。
func (e *EthCustody) Release(ctx context.Context, campaignID uint64, to common.Address, amount *big.Int) error {
	if err := e.vault.Release(ctx, campaignID, to, amount); err != nil {
		return err
	}

	txHash, err := e.transfer(ctx, to, amount)
	if errors.Is(err, errTransferUnconfirmed) {
		logger.Warn("Campaign %d release of %s wei to %s not confirmed: %v", campaignID, amount, to.Hex(), err)
		return nil
	}
	if err != nil {
		if derr := e.vault.credit(campaignID, amount); derr != nil {
			logger.Error("Failed to restore custody balance of campaign %d: %v", campaignID, derr)
		}
		return err
	}

	logger.Info("Campaign %d released %s wei to %s, tx %s", campaignID, amount, to.Hex(), txHash.Hex())
	return nil
}

// errTransferUnconfirmed 交易已广播，但没有拿到回执
var errTransferUnconfirmed = errors.New("transfer broadcast but not confirmed")

// transfer 签名并发送一笔转账交易
func (e *EthCustody) transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	from := e.Address()

	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(amount),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	if e.waitMined {
		receipt, err := bind.WaitMined(ctx, e.backend, signedTx)
		if err != nil {
			return signedTx.Hash(), fmt.Errorf("%w: transaction %s: %v", errTransferUnconfirmed, signedTx.Hash().Hex(), err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return common.Hash{}, fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
		}
	}

	return signedTx.Hash(), nil
}
