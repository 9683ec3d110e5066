package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CampaignStatus 众筹活动状态
type CampaignStatus string

const (
	CampaignStatusFunding   CampaignStatus = "funding"   // 募集中
	CampaignStatusClosed    CampaignStatus = "closed"    // 已截止，待提取
	CampaignStatusWithdrawn CampaignStatus = "withdrawn" // 已提取
)

// Campaign 众筹活动快照
type Campaign struct {
	ID                  uint64
	Title               string
	Description         string
	Owner               common.Address
	ParticipationAmount *big.Int
	TotalFundingAmount  *big.Int
	Deadline            time.Time
	Withdrawn           bool
	CreatedAt           time.Time
}

// NewCampaign 创建活动的参数
type NewCampaign struct {
	Title               string
	Description         string
	ParticipationAmount *big.Int
	Deadline            time.Time
}

// Status 根据当前时间推导活动状态
func (c Campaign) Status(now time.Time) CampaignStatus {
	switch {
	case c.Withdrawn:
		return CampaignStatusWithdrawn
	case now.Before(c.Deadline):
		return CampaignStatusFunding
	default:
		return CampaignStatusClosed
	}
}

// clone 深拷贝，金额字段不与内部状态共享
func (c *Campaign) clone() Campaign {
	out := *c
	out.ParticipationAmount = new(big.Int).Set(c.ParticipationAmount)
	out.TotalFundingAmount = new(big.Int).Set(c.TotalFundingAmount)
	return out
}

type ledgerKey struct {
	contributor common.Address
	campaignID  uint64
}

// Payment 随贡献附带的资金
//
// TxHash 为零值时表示资金由调用方网关担保，链上托管要求提供转账交易哈希。
type Payment struct {
	Amount *big.Int
	TxHash common.Hash
}
