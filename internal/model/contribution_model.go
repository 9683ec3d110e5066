package model

import (
	"time"
)

// ContributionModel 贡献账本，每个 (活动, 贡献者) 一行，金额只增不减
type ContributionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId int64  `json:"campaign_id" gorm:"not null;uniqueIndex:idx_contribution_campaign_address"`
	Address    string `json:"address" gorm:"not null;uniqueIndex:idx_contribution_campaign_address"`
	Amount     string `json:"amount" gorm:"type:numeric(78,0);not null"`
}

// TableName 自定义表名
func (ContributionModel) TableName() string {
	return "contribution"
}

// ContributionRecordModel 贡献流水
type ContributionRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CampaignId int64     `json:"campaign_id" gorm:"not null;index"`
	Address    string    `json:"address" gorm:"not null"`
	Amount     string    `json:"amount" gorm:"type:numeric(78,0);not null"`
	EventSeq   int64     `json:"event_seq" gorm:"uniqueIndex"`
	TxHash     *string   `json:"tx_hash"`
	OccurredAt time.Time `json:"occurred_at" gorm:"not null"`
}

// TableName 自定义表名
func (ContributionRecordModel) TableName() string {
	return "contribution_record"
}
