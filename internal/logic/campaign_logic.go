package logic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/cfledger/internal/model"
	"github.com/blues/cfledger/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 贡献流水分页
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrHistoryUnavailable 未配置数据库时无法查询贡献流水
var ErrHistoryUnavailable = errors.New("contribution history is not available")

// ErrInvalidAddress 身份地址格式错误
var ErrInvalidAddress = errors.New("invalid address")

// History 贡献流水查询
type History interface {
	ListContributionRecords(ctx context.Context, campaignID uint64, page, pageSize int) ([]model.ContributionRecordModel, int64, error)
}

// CreateCampaignInput 创建活动的请求参数
type CreateCampaignInput struct {
	Title               string
	Description         string
	ParticipationAmount string // wei，十进制
	Deadline            time.Time
}

// ContributionRecordPage 一页贡献流水，Page 和 PageSize 为实际使用的分页参数
type ContributionRecordPage struct {
	Records  []model.ContributionRecordModel
	Total    int64
	Page     int
	PageSize int
}

// CampaignLogic 众筹活动业务逻辑
type CampaignLogic struct {
	registry *registry.Registry
	history  History
	now      func() time.Time
}

// NewCampaignLogic 创建活动业务逻辑，history 可以为 nil
func NewCampaignLogic(r *registry.Registry, history History, now func() time.Time) *CampaignLogic {
	if now == nil {
		now = time.Now
	}
	return &CampaignLogic{registry: r, history: history, now: now}
}

// Now 当前时间
func (l *CampaignLogic) Now() time.Time {
	return l.now()
}

// CreateCampaign 创建活动
func (l *CampaignLogic) CreateCampaign(ctx context.Context, input CreateCampaignInput, caller common.Address) (uint64, error) {
	amount, err := ParseAmount(input.ParticipationAmount)
	if err != nil {
		return 0, err
	}
	return l.registry.CreateCampaign(ctx, registry.NewCampaign{
		Title:               input.Title,
		Description:         input.Description,
		ParticipationAmount: amount,
		Deadline:            input.Deadline,
	}, caller, l.now())
}

// Contribute 贡献资金，txHash 为贡献者转入托管账户的交易哈希，可以为空
func (l *CampaignLogic) Contribute(ctx context.Context, campaignID uint64, amount, txHash string, caller common.Address) error {
	value, err := ParseAmount(amount)
	if err != nil {
		return err
	}
	payment := registry.Payment{Amount: value}
	if txHash != "" {
		if payment.TxHash, err = ParseTxHash(txHash); err != nil {
			return err
		}
	}
	return l.registry.Contribute(ctx, campaignID, payment, caller, l.now())
}

// Withdraw 提取资金
func (l *CampaignLogic) Withdraw(ctx context.Context, campaignID uint64, caller common.Address) (*big.Int, error) {
	return l.registry.Withdraw(ctx, campaignID, caller, l.now())
}

// GetCampaign 获取活动详情
func (l *CampaignLogic) GetCampaign(campaignID uint64) (registry.Campaign, error) {
	return l.registry.SearchForCampaign(campaignID)
}

// GetCampaigns 获取活动列表
func (l *CampaignLogic) GetCampaigns() []registry.Campaign {
	return l.registry.Campaigns()
}

// GetContribution 获取贡献者在活动中的累计贡献
func (l *CampaignLogic) GetContribution(campaignID uint64, contributor common.Address) (*big.Int, error) {
	return l.registry.RetrieveContribution(contributor, campaignID)
}

// GetContributionRecords 分页获取贡献流水，非法的分页参数回退为默认值
func (l *CampaignLogic) GetContributionRecords(ctx context.Context, campaignID uint64, page, pageSize int) (*ContributionRecordPage, error) {
	if _, err := l.registry.SearchForCampaign(campaignID); err != nil {
		return nil, err
	}
	if l.history == nil {
		return nil, ErrHistoryUnavailable
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	records, total, err := l.history.ListContributionRecords(ctx, campaignID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("获取贡献流水失败: %w", err)
	}
	return &ContributionRecordPage{Records: records, Total: total, Page: page, PageSize: pageSize}, nil
}

// ParseAmount 解析十进制 wei 金额
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not a decimal integer", registry.ErrInvalidArgument, s)
	}
	return amount, nil
}

// ParseTxHash 解析 0x 开头的 32 字节交易哈希
func ParseTxHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: transaction hash %q: %v", registry.ErrInvalidArgument, s, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: transaction hash %q must be %d bytes", registry.ErrInvalidArgument, s, common.HashLength)
	}
	return common.BytesToHash(raw), nil
}

// ParseAddress 解析十六进制地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
