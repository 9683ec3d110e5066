// Package registry 实现众筹登记簿：活动创建、定额贡献、截止后一次性提取。
//
// 调用方身份与当前时间都由外部显式传入，登记簿本身没有任何后台活动。
package registry

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/blues/cfledger/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Custody 资金托管
//
// Deposit 和 Reverse 在持有登记簿锁时调用，不得回调登记簿；Release 在锁外调用。
// Release 返回错误表示资金没有转出。
type Custody interface {
	Deposit(ctx context.Context, campaignID uint64, from common.Address, payment Payment) error
	Reverse(campaignID uint64, amount *big.Int)
	Release(ctx context.Context, campaignID uint64, to common.Address, amount *big.Int) error
}

// Journal 事件日志，重启时据此重建登记簿
//
// Append 在持有登记簿锁时同步调用，返回错误时该操作整体失败。
type Journal interface {
	Append(ctx context.Context, event Event) error
}

// Notifier 事件通知，投递失败由实现自行处理
//
// Notify 在持有登记簿锁时调用，不得回调登记簿。
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Registry 众筹登记簿
type Registry struct {
	mu        sync.Mutex
	campaigns []*Campaign
	ledger    map[ledgerKey]*big.Int
	payments  map[common.Hash]struct{} // 已入账的转账交易
	seq       uint64

	custody  Custody
	journal  Journal
	notifier Notifier
}

// New 创建登记簿，journal 和 notifier 可以为 nil
func New(custody Custody, journal Journal, notifier Notifier) *Registry {
	return &Registry{
		ledger:   make(map[ledgerKey]*big.Int),
		payments: make(map[common.Hash]struct{}),
		custody:  custody,
		journal:  journal,
		notifier: notifier,
	}
}

// CreateCampaign 创建众筹活动，返回分配的活动ID
func (r *Registry) CreateCampaign(ctx context.Context, params NewCampaign, creator common.Address, now time.Time) (uint64, error) {
	if params.Title == "" {
		return 0, fmt.Errorf("%w: title must not be empty", ErrInvalidArgument)
	}
	if params.Description == "" {
		return 0, fmt.Errorf("%w: description must not be empty", ErrInvalidArgument)
	}
	if params.ParticipationAmount == nil || params.ParticipationAmount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: participation amount must be positive", ErrInvalidArgument)
	}
	if !params.Deadline.After(now) {
		return 0, fmt.Errorf("%w: deadline %s is not in the future", ErrInvalidArgument, params.Deadline.Format(time.RFC3339))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	campaign := &Campaign{
		ID:                  uint64(len(r.campaigns)),
		Title:               params.Title,
		Description:         params.Description,
		Owner:               creator,
		ParticipationAmount: new(big.Int).Set(params.ParticipationAmount),
		TotalFundingAmount:  new(big.Int),
		Deadline:            params.Deadline,
		CreatedAt:           now,
	}

	deadline := campaign.Deadline
	event, err := r.commit(ctx, Event{
		Kind:                EventCampaignCreated,
		CampaignID:          campaign.ID,
		Actor:               creator,
		Amount:              new(big.Int),
		OccurredAt:          now,
		Title:               campaign.Title,
		Description:         campaign.Description,
		ParticipationAmount: new(big.Int).Set(campaign.ParticipationAmount),
		Deadline:            &deadline,
	})
	if err != nil {
		return 0, err
	}
	r.campaigns = append(r.campaigns, campaign)

	logger.Info("Campaign %d created by %s, deadline %s", campaign.ID, creator.Hex(), campaign.Deadline.Format(time.RFC3339))
	r.notify(ctx, event)

	return campaign.ID, nil
}

// Contribute 向活动贡献一笔定额资金
func (r *Registry) Contribute(ctx context.Context, campaignID uint64, payment Payment, contributor common.Address, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := r.lookup(campaignID)
	if err != nil {
		return err
	}
	if !now.Before(campaign.Deadline) {
		return fmt.Errorf("%w: campaign %d closed at %s", ErrExpired, campaignID, campaign.Deadline.Format(time.RFC3339))
	}
	amount := payment.Amount
	if amount == nil || amount.Cmp(campaign.ParticipationAmount) != 0 {
		return fmt.Errorf("%w: contribution must equal participation amount %s", ErrInvalidArgument, campaign.ParticipationAmount)
	}
	var txHash *common.Hash
	if payment.TxHash != (common.Hash{}) {
		if _, used := r.payments[payment.TxHash]; used {
			return fmt.Errorf("%w: transaction %s already counted", ErrPaymentRejected, payment.TxHash.Hex())
		}
		hash := payment.TxHash
		txHash = &hash
	}

	if err := r.custody.Deposit(ctx, campaignID, contributor, payment); err != nil {
		return fmt.Errorf("deposit to custody: %w", err)
	}

	event, err := r.commit(ctx, Event{
		Kind:       EventCampaignParticipated,
		CampaignID: campaignID,
		Actor:      contributor,
		Amount:     new(big.Int).Set(amount),
		OccurredAt: now,
		TxHash:     txHash,
	})
	if err != nil {
		r.custody.Reverse(campaignID, amount)
		return err
	}

	key := ledgerKey{contributor: contributor, campaignID: campaignID}
	entry, ok := r.ledger[key]
	if !ok {
		entry = new(big.Int)
		r.ledger[key] = entry
	}
	entry.Add(entry, amount)
	campaign.TotalFundingAmount.Add(campaign.TotalFundingAmount, amount)
	if txHash != nil {
		r.payments[*txHash] = struct{}{}
	}

	logger.Info("Campaign %d received %s from %s, total %s", campaignID, amount, contributor.Hex(), campaign.TotalFundingAmount)
	r.notify(ctx, event)

	return nil
}

// Withdraw 活动所有者在截止后提取全部资金，每个活动只能提取一次
//
// 提取事件先写入日志并提交标记，释放锁之后才转账，转账过程中重入的提取请求
// 会得到 ErrAlreadyWithdrawn。转账失败时追加 CampaignWithdrawalFailed 并回滚标记；
// 失败记录写不进日志时标记保持不变，宁可资金滞留也不重复转出。
func (r *Registry) Withdraw(ctx context.Context, campaignID uint64, caller common.Address, now time.Time) (*big.Int, error) {
	r.mu.Lock()
	campaign, err := r.lookup(campaignID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if caller != campaign.Owner {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %d", ErrForbidden, campaignID)
	}
	if !now.After(campaign.Deadline) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %d closes at %s", ErrTooEarly, campaignID, campaign.Deadline.Format(time.RFC3339))
	}
	if campaign.Withdrawn {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %d", ErrAlreadyWithdrawn, campaignID)
	}
	if campaign.TotalFundingAmount.Sign() == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %d", ErrNothingToWithdraw, campaignID)
	}
	amount := new(big.Int).Set(campaign.TotalFundingAmount)
	owner := campaign.Owner

	event, err := r.commit(ctx, Event{
		Kind:       EventCampaignWithdrawn,
		CampaignID: campaignID,
		Actor:      owner,
		Amount:     new(big.Int).Set(amount),
		OccurredAt: now,
	})
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	campaign.Withdrawn = true
	r.notify(ctx, event)
	r.mu.Unlock()

	// 已提交的提取不随请求取消而中断
	ctx = context.WithoutCancel(ctx)

	if err := r.custody.Release(ctx, campaignID, owner, amount); err != nil {
		logger.Error("Campaign %d withdrawal of %s to %s failed: %v", campaignID, amount, owner.Hex(), err)
		r.recordWithdrawalFailure(ctx, campaign, amount, now)
		return nil, fmt.Errorf("release custody: %w", err)
	}

	logger.Info("Campaign %d withdrawn by %s, amount %s", campaignID, owner.Hex(), amount)
	return amount, nil
}

// recordWithdrawalFailure 记录转账失败并回滚提取标记
func (r *Registry) recordWithdrawalFailure(ctx context.Context, campaign *Campaign, amount *big.Int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.commit(ctx, Event{
		Kind:       EventCampaignWithdrawalFailed,
		CampaignID: campaign.ID,
		Actor:      campaign.Owner,
		Amount:     new(big.Int).Set(amount),
		OccurredAt: now,
	})
	if err != nil {
		logger.Error("Campaign %d stays withdrawn, failed to record transfer failure: %v", campaign.ID, err)
		return
	}
	campaign.Withdrawn = false
	r.notify(ctx, event)
}

// SearchForCampaign 查询活动快照
func (r *Registry) SearchForCampaign(campaignID uint64) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := r.lookup(campaignID)
	if err != nil {
		return Campaign{}, err
	}
	return campaign.clone(), nil
}

// RetrieveContribution 查询某贡献者在活动中的累计贡献，无记录时返回0
func (r *Registry) RetrieveContribution(contributor common.Address, campaignID uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.lookup(campaignID); err != nil {
		return nil, err
	}
	entry, ok := r.ledger[ledgerKey{contributor: contributor, campaignID: campaignID}]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(entry), nil
}

// Campaigns 按ID顺序返回所有活动快照
func (r *Registry) Campaigns() []Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, c.clone())
	}
	return out
}

// Len 返回下一个待分配的活动ID
func (r *Registry) Len() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.campaigns))
}

func (r *Registry) lookup(campaignID uint64) (*Campaign, error) {
	if campaignID >= uint64(len(r.campaigns)) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, campaignID)
	}
	return r.campaigns[campaignID], nil
}

// commit 分配序号并同步写入事件日志，写入失败时序号不前进；调用方必须持有锁
func (r *Registry) commit(ctx context.Context, event Event) (Event, error) {
	event.ID = uuid.New()
	event.Seq = r.seq + 1
	if r.journal != nil {
		if err := r.journal.Append(ctx, event); err != nil {
			return Event{}, fmt.Errorf("append %s event to journal: %w", event.Kind, err)
		}
	}
	r.seq = event.Seq
	return event, nil
}

// notify 投递已提交的事件，调用方必须持有锁
func (r *Registry) notify(ctx context.Context, event Event) {
	if r.notifier != nil {
		r.notifier.Notify(ctx, event)
	}
}
