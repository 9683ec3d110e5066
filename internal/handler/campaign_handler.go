package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/cfledger/internal/logic"
	"github.com/gin-gonic/gin"
)

// CampaignHandler 众筹活动处理器
type CampaignHandler struct {
	campaignLogic *logic.CampaignLogic
}

// NewCampaignHandler 创建活动处理器
func NewCampaignHandler(campaignLogic *logic.CampaignLogic) *CampaignHandler {
	return &CampaignHandler{
		campaignLogic: campaignLogic,
	}
}

// CreateCampaign 创建活动
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.campaignLogic.CreateCampaign(c.Request.Context(), logic.CreateCampaignInput{
		Title:               req.Title,
		Description:         req.Description,
		ParticipationAmount: req.ParticipationAmount,
		Deadline:            req.Deadline,
	}, callerFrom(c))
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "活动创建成功", CreateCampaignResponse{ID: id})
}

// GetCampaigns 获取活动列表
func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	status := c.Query("status")
	now := h.campaignLogic.Now()

	campaigns := h.campaignLogic.GetCampaigns()
	list := make([]CampaignResponse, 0, len(campaigns))
	for _, campaign := range campaigns {
		resp := ToCampaignResponse(campaign, now)
		if status != "" && resp.Status != status {
			continue
		}
		list = append(list, resp)
	}

	SuccessResponse(c, http.StatusOK, "获取活动列表成功", GetCampaignsResponse{Campaigns: list, Total: len(list)})
}

// GetCampaign 获取活动详情
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	campaign, err := h.campaignLogic.GetCampaign(id)
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取活动详情成功", ToCampaignResponse(campaign, h.campaignLogic.Now()))
}

// Contribute 参与活动
func (h *CampaignHandler) Contribute(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	caller := callerFrom(c)
	if err := h.campaignLogic.Contribute(c.Request.Context(), id, req.Amount, req.TxHash, caller); err != nil {
		HandleError(c, err)
		return
	}

	total, err := h.campaignLogic.GetContribution(id, caller)
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "贡献成功", ContributionResponse{
		CampaignID:  id,
		Contributor: caller.Hex(),
		Amount:      total.String(),
	})
}

// GetContribution 查询累计贡献
func (h *CampaignHandler) GetContribution(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	contributor, err := logic.ParseAddress(c.Param("address"))
	if err != nil {
		HandleError(c, err)
		return
	}

	amount, err := h.campaignLogic.GetContribution(id, contributor)
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取贡献金额成功", ContributionResponse{
		CampaignID:  id,
		Contributor: contributor.Hex(),
		Amount:      amount.String(),
	})
}

// GetContributionRecords 获取活动贡献流水
func (h *CampaignHandler) GetContributionRecords(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.campaignLogic.GetContributionRecords(c.Request.Context(), id, page, pageSize)
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取贡献流水成功", GetContributionRecordsResponse{
		Records: ToContributionRecordResponseList(result.Records),
		Pagination: Pagination{
			Page:      result.Page,
			PageSize:  result.PageSize,
			Total:     result.Total,
			TotalPage: (result.Total + int64(result.PageSize) - 1) / int64(result.PageSize),
		},
	})
}

// Withdraw 提取活动资金
func (h *CampaignHandler) Withdraw(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	amount, err := h.campaignLogic.Withdraw(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "提取成功", WithdrawResponse{CampaignID: id, Amount: amount.String()})
}

// campaignID 解析路径中的活动ID
func campaignID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return 0, false
	}
	return id, true
}
