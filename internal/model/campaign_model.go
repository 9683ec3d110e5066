package model

import (
	"time"
)

// CampaignModel 众筹活动投影
type CampaignModel struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text;not null"`

	// 众筹信息，金额以 wei 为单位的十进制字符串存储
	ParticipationAmount string `json:"participation_amount" gorm:"type:numeric(78,0);not null"`
	TotalFundingAmount  string `json:"total_funding_amount" gorm:"type:numeric(78,0);not null;default:0"`

	// 时间信息
	Deadline time.Time `json:"deadline" gorm:"not null"`

	// 状态
	Status    CampaignStatus `json:"status" gorm:"default:'funding';index"`
	Withdrawn bool           `json:"withdrawn" gorm:"default:false"`

	// 创建者信息
	OwnerAddress string `json:"owner_address" gorm:"not null;index"`
}

// CampaignStatus 活动状态
type CampaignStatus string

const (
	CampaignStatusFunding   CampaignStatus = "funding"   // 募集中
	CampaignStatusClosed    CampaignStatus = "closed"    // 已截止
	CampaignStatusWithdrawn CampaignStatus = "withdrawn" // 已提取
)

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}
