package model

import (
	"time"
)

// EventModel 登记簿事件日志，按 Seq 追加
type EventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	EventId    string    `json:"event_id" gorm:"type:uuid;uniqueIndex;not null"`
	Seq        int64     `json:"seq" gorm:"uniqueIndex;not null"`
	EventType  string    `json:"event_type" gorm:"not null"`
	Topic      string    `json:"topic" gorm:"not null"`
	CampaignId int64     `json:"campaign_id" gorm:"not null;index"`
	Actor      string    `json:"actor" gorm:"not null"`
	Amount     string    `json:"amount" gorm:"type:numeric(78,0);not null"`
	OccurredAt time.Time `json:"occurred_at" gorm:"not null"`
	Data       string    `json:"data" gorm:"type:text"`
	TxHash     *string   `json:"tx_hash" gorm:"uniqueIndex"` // 贡献转账交易，同一笔转账只能记账一次
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "event"
}
