// Package custody 保管活动资金，并在提取时把资金转给活动所有者。
package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/blues/cfledger/internal/registry"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientFunds 托管余额不足
var ErrInsufficientFunds = errors.New("insufficient custody balance")

// Vault 内存托管账本，按活动记录余额
type Vault struct {
	mu       sync.Mutex
	balances map[uint64]*big.Int
}

// NewVault 创建托管账本
func NewVault() *Vault {
	return &Vault{balances: make(map[uint64]*big.Int)}
}

// Deposit 记入一笔贡献，金额由调用方网关担保
func (v *Vault) Deposit(_ context.Context, campaignID uint64, _ common.Address, payment registry.Payment) error {
	return v.credit(campaignID, payment.Amount)
}

// Reverse 撤销一笔未能记账的贡献
func (v *Vault) Reverse(campaignID uint64, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if balance, ok := v.balances[campaignID]; ok {
		balance.Sub(balance, amount)
	}
}

func (v *Vault) credit(campaignID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	balance, ok := v.balances[campaignID]
	if !ok {
		balance = new(big.Int)
		v.balances[campaignID] = balance
	}
	balance.Add(balance, amount)
	return nil
}

// Release 从活动余额中扣出指定金额
func (v *Vault) Release(_ context.Context, campaignID uint64, _ common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, ok := v.balances[campaignID]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: campaign %d", ErrInsufficientFunds, campaignID)
	}
	balance.Sub(balance, amount)
	return nil
}

// Balance 查询活动托管余额
func (v *Vault) Balance(campaignID uint64) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if balance, ok := v.balances[campaignID]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// Restore 重放后恢复活动余额
func (v *Vault) Restore(campaignID uint64, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[campaignID] = new(big.Int).Set(amount)
}
