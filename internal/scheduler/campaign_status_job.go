package scheduler

import (
	"context"
	"time"

	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/model"
	"github.com/blues/cfledger/internal/registry"
)

// 单次状态同步的超时
const statusSyncTimeout = 30 * time.Second

// CampaignSource 活动快照来源
type CampaignSource interface {
	Campaigns() []registry.Campaign
}

// StatusStore 活动投影状态存储
type StatusStore interface {
	CampaignStatuses(ctx context.Context) (map[uint64]model.CampaignStatus, error)
	UpdateCampaignStatus(ctx context.Context, campaignID uint64, status model.CampaignStatus) error
}

// CampaignStatusJob 把截止时间带来的状态变化同步到投影表
type CampaignStatusJob struct {
	source CampaignSource
	store  StatusStore
	now    func() time.Time
}

// NewCampaignStatusJob 创建活动状态同步任务
func NewCampaignStatusJob(source CampaignSource, store StatusStore, now func() time.Time) *CampaignStatusJob {
	if now == nil {
		now = time.Now
	}
	return &CampaignStatusJob{
		source: source,
		store:  store,
		now:    now,
	}
}

// GetName 获取任务名称
func (j *CampaignStatusJob) GetName() string {
	return "campaign_status_updater"
}

// Execute 执行任务
func (j *CampaignStatusJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), statusSyncTimeout)
	defer cancel()

	updated, err := j.Sync(ctx)
	if err != nil {
		logger.Error("Campaign status sync failed: %v", err)
		return
	}
	logger.Debug("Campaign status sync completed. Updated %d campaigns", updated)
}

// Sync 比较内存状态与投影状态，返回更新的活动数
func (j *CampaignStatusJob) Sync(ctx context.Context) (int, error) {
	stored, err := j.store.CampaignStatuses(ctx)
	if err != nil {
		return 0, err
	}

	now := j.now()
	updated := 0
	for _, campaign := range j.source.Campaigns() {
		current, ok := stored[campaign.ID]
		if !ok {
			// 投影尚未写入
			continue
		}
		status := model.CampaignStatus(campaign.Status(now))
		if current == status {
			continue
		}
		if err := j.store.UpdateCampaignStatus(ctx, campaign.ID, status); err != nil {
			logger.Error("Failed to update campaign %d status: %v", campaign.ID, err)
			continue
		}
		logger.Info("Updated campaign %d status from %s to %s", campaign.ID, current, status)
		updated++
	}
	return updated, nil
}
