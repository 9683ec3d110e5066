package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/cfledger/internal/model"
	"github.com/blues/cfledger/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore 事件日志与投影表的持久化
type EventStore struct {
	db *gorm.DB
}

var _ registry.Journal = (*EventStore)(nil)

// NewEventStore 创建事件存储
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// createdPayload 创建事件中用于重放的不可变字段
type createdPayload struct {
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	ParticipationAmount string    `json:"participation_amount"`
	Deadline            time.Time `json:"deadline"`
}

// Append 在一个事务中追加事件并更新投影，返回错误时事件没有写入
func (s *EventStore) Append(ctx context.Context, event registry.Event) error {
	record, err := toEventModel(event)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("append event %d: %w", event.Seq, err)
		}

		switch event.Kind {
		case registry.EventCampaignCreated:
			return tx.Create(&model.CampaignModel{
				Id:                  int64(event.CampaignID),
				CreatedAt:           event.OccurredAt,
				Title:               event.Title,
				Description:         event.Description,
				ParticipationAmount: event.ParticipationAmount.String(),
				TotalFundingAmount:  "0",
				Deadline:            *event.Deadline,
				Status:              model.CampaignStatusFunding,
				OwnerAddress:        event.Actor.Hex(),
			}).Error

		case registry.EventCampaignParticipated:
			amount := event.Amount.String()
			if err := tx.Create(&model.ContributionRecordModel{
				CampaignId: int64(event.CampaignID),
				Address:    event.Actor.Hex(),
				Amount:     amount,
				EventSeq:   int64(event.Seq),
				TxHash:     record.TxHash,
				OccurredAt: event.OccurredAt,
			}).Error; err != nil {
				return fmt.Errorf("append contribution record: %w", err)
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "campaign_id"}, {Name: "address"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"amount":     gorm.Expr("contribution.amount + EXCLUDED.amount"),
					"updated_at": gorm.Expr("EXCLUDED.updated_at"),
				}),
			}).Create(&model.ContributionModel{
				CampaignId: int64(event.CampaignID),
				Address:    event.Actor.Hex(),
				Amount:     amount,
			}).Error; err != nil {
				return fmt.Errorf("upsert contribution: %w", err)
			}

			return tx.Model(&model.CampaignModel{}).
				Where("id = ?", event.CampaignID).
				Update("total_funding_amount", gorm.Expr("total_funding_amount + CAST(? AS numeric)", amount)).Error

		case registry.EventCampaignWithdrawn:
			return tx.Model(&model.CampaignModel{}).
				Where("id = ?", event.CampaignID).
				Updates(map[string]interface{}{
					"withdrawn": true,
					"status":    model.CampaignStatusWithdrawn,
				}).Error

		case registry.EventCampaignWithdrawalFailed:
			return tx.Model(&model.CampaignModel{}).
				Where("id = ?", event.CampaignID).
				Updates(map[string]interface{}{
					"withdrawn": false,
					"status":    model.CampaignStatusClosed,
				}).Error
		}
		return nil
	})
}

// LoadEvents 按序号读取全部事件，用于重建登记簿
func (s *EventStore) LoadEvents(ctx context.Context) ([]registry.Event, error) {
	var records []model.EventModel
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("获取事件日志失败: %w", err)
	}

	events := make([]registry.Event, 0, len(records))
	for i := range records {
		event, err := fromEventModel(&records[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// ListContributionRecords 分页获取活动贡献流水
func (s *EventStore) ListContributionRecords(ctx context.Context, campaignID uint64, page, pageSize int) ([]model.ContributionRecordModel, int64, error) {
	var records []model.ContributionRecordModel
	var total int64

	db := s.db.WithContext(ctx)

	// 获取总数
	if err := db.Model(&model.ContributionRecordModel{}).Where("campaign_id = ?", campaignID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 获取数据
	offset := (page - 1) * pageSize
	if err := db.Where("campaign_id = ?", campaignID).
		Offset(offset).
		Limit(pageSize).
		Order("event_seq DESC").
		Find(&records).Error; err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// UpdateCampaignStatus 更新活动投影状态
func (s *EventStore) UpdateCampaignStatus(ctx context.Context, campaignID uint64, status model.CampaignStatus) error {
	return s.db.WithContext(ctx).
		Model(&model.CampaignModel{}).
		Where("id = ? AND status <> ?", campaignID, status).
		Update("status", status).Error
}

// CampaignStatuses 读取所有活动的投影状态
func (s *EventStore) CampaignStatuses(ctx context.Context) (map[uint64]model.CampaignStatus, error) {
	var rows []model.CampaignModel
	if err := s.db.WithContext(ctx).Select("id", "status").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]model.CampaignStatus, len(rows))
	for _, row := range rows {
		out[uint64(row.Id)] = row.Status
	}
	return out, nil
}

func toEventModel(event registry.Event) (*model.EventModel, error) {
	record := &model.EventModel{
		EventId:    event.ID.String(),
		Seq:        int64(event.Seq),
		EventType:  string(event.Kind),
		Topic:      event.Kind.Topic().Hex(),
		CampaignId: int64(event.CampaignID),
		Actor:      event.Actor.Hex(),
		Amount:     "0",
		OccurredAt: event.OccurredAt,
	}
	if event.Amount != nil {
		record.Amount = event.Amount.String()
	}
	if event.TxHash != nil {
		hash := event.TxHash.Hex()
		record.TxHash = &hash
	}

	if event.Kind == registry.EventCampaignCreated {
		if event.ParticipationAmount == nil {
			return nil, fmt.Errorf("created event %d has no participation amount", event.Seq)
		}
		if event.Deadline == nil {
			return nil, fmt.Errorf("created event %d has no deadline", event.Seq)
		}
		data, err := json.Marshal(createdPayload{
			Title:               event.Title,
			Description:         event.Description,
			ParticipationAmount: event.ParticipationAmount.String(),
			Deadline:            *event.Deadline,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal created payload: %w", err)
		}
		record.Data = string(data)
	}
	return record, nil
}

func fromEventModel(record *model.EventModel) (registry.Event, error) {
	id, err := uuid.Parse(record.EventId)
	if err != nil {
		return registry.Event{}, fmt.Errorf("event %d: invalid id: %w", record.Seq, err)
	}
	amount, ok := new(big.Int).SetString(record.Amount, 10)
	if !ok {
		return registry.Event{}, fmt.Errorf("event %d: invalid amount %q", record.Seq, record.Amount)
	}

	event := registry.Event{
		ID:         id,
		Seq:        uint64(record.Seq),
		Kind:       registry.EventKind(record.EventType),
		CampaignID: uint64(record.CampaignId),
		Actor:      common.HexToAddress(record.Actor),
		Amount:     amount,
		OccurredAt: record.OccurredAt,
	}
	if record.TxHash != nil {
		hash := common.HexToHash(*record.TxHash)
		event.TxHash = &hash
	}

	if event.Kind == registry.EventCampaignCreated {
		var payload createdPayload
		if err := json.Unmarshal([]byte(record.Data), &payload); err != nil {
			return registry.Event{}, fmt.Errorf("event %d: invalid payload: %w", record.Seq, err)
		}
		participation, ok := new(big.Int).SetString(payload.ParticipationAmount, 10)
		if !ok {
			return registry.Event{}, fmt.Errorf("event %d: invalid participation amount %q", record.Seq, payload.ParticipationAmount)
		}
		event.Title = payload.Title
		event.Description = payload.Description
		event.ParticipationAmount = participation
		event.Deadline = &payload.Deadline
	}
	return event, nil
}
