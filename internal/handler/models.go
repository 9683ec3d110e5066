package handler

import (
	"time"

	"github.com/blues/cfledger/internal/model"
	"github.com/blues/cfledger/internal/registry"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

// 请求模型

// CreateCampaignRequest 创建活动请求，金额为十进制 wei 字符串
type CreateCampaignRequest struct {
	Title               string    `json:"title" binding:"required"`
	Description         string    `json:"description" binding:"required"`
	ParticipationAmount string    `json:"participationAmount" binding:"required"`
	Deadline            time.Time `json:"deadline" binding:"required"`
}

// ContributeRequest 贡献请求，链上托管时 TxHash 为转入托管账户的交易哈希
type ContributeRequest struct {
	Amount string `json:"amount" binding:"required"`
	TxHash string `json:"txHash"`
}

// 活动相关响应模型

// CampaignResponse 活动响应模型
type CampaignResponse struct {
	ID                  uint64    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Owner               string    `json:"owner"`
	ParticipationAmount string    `json:"participationAmount"`
	TotalFundingAmount  string    `json:"totalFundingAmount"`
	Deadline            time.Time `json:"deadline"`
	Withdrawn           bool      `json:"withdrawn"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
}

// CreateCampaignResponse 创建活动响应
type CreateCampaignResponse struct {
	ID uint64 `json:"id"`
}

// GetCampaignsResponse 获取活动列表响应
type GetCampaignsResponse struct {
	Campaigns []CampaignResponse `json:"campaigns"`
	Total     int                `json:"total"`
}

// ContributionResponse 累计贡献响应
type ContributionResponse struct {
	CampaignID  uint64 `json:"campaignId"`
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
}

// WithdrawResponse 提取响应
type WithdrawResponse struct {
	CampaignID uint64 `json:"campaignId"`
	Amount     string `json:"amount"`
}

// ContributionRecordResponse 贡献流水响应模型
type ContributionRecordResponse struct {
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaignId"`
	Address    string    `json:"address"`
	Amount     string    `json:"amount"`
	EventSeq   int64     `json:"eventSeq"`
	TxHash     string    `json:"txHash,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// GetContributionRecordsResponse 获取贡献流水响应
type GetContributionRecordsResponse struct {
	Records    []ContributionRecordResponse `json:"records"`
	Pagination Pagination                   `json:"pagination"`
}

// ToCampaignResponse 转换活动快照
func ToCampaignResponse(c registry.Campaign, now time.Time) CampaignResponse {
	return CampaignResponse{
		ID:                  c.ID,
		Title:               c.Title,
		Description:         c.Description,
		Owner:               c.Owner.Hex(),
		ParticipationAmount: c.ParticipationAmount.String(),
		TotalFundingAmount:  c.TotalFundingAmount.String(),
		Deadline:            c.Deadline,
		Withdrawn:           c.Withdrawn,
		Status:              string(c.Status(now)),
		CreatedAt:           c.CreatedAt,
	}
}

// ToContributionRecordResponseList 转换贡献流水列表
func ToContributionRecordResponseList(records []model.ContributionRecordModel) []ContributionRecordResponse {
	out := make([]ContributionRecordResponse, 0, len(records))
	for _, r := range records {
		record := ContributionRecordResponse{
			ID:         r.Id,
			CampaignID: r.CampaignId,
			Address:    r.Address,
			Amount:     r.Amount,
			EventSeq:   r.EventSeq,
			OccurredAt: r.OccurredAt,
		}
		if r.TxHash != nil {
			record.TxHash = *r.TxHash
		}
		out = append(out, record)
	}
	return out
}
