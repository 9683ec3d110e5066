package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// EventKind 事件类型
type EventKind string

const (
	EventCampaignCreated      EventKind = "CampaignCreated"
	EventCampaignParticipated EventKind = "CampaignParticipated"
	EventCampaignWithdrawn    EventKind = "CampaignWithdrawn"

	// EventCampaignWithdrawalFailed 提取转账失败，抵消之前的 CampaignWithdrawn
	EventCampaignWithdrawalFailed EventKind = "CampaignWithdrawalFailed"
)

var eventSignatures = map[EventKind]string{
	EventCampaignCreated:          "CampaignCreated(uint256,address,uint256)",
	EventCampaignParticipated:     "CampaignParticipated(uint256,address,uint256)",
	EventCampaignWithdrawn:        "CampaignWithdrawn(uint256,address,uint256)",
	EventCampaignWithdrawalFailed: "CampaignWithdrawalFailed(uint256,address,uint256)",
}

// Signature 返回与链上合约一致的事件签名
func (k EventKind) Signature() string {
	return eventSignatures[k]
}

// Topic 返回事件签名的 Keccak-256 哈希，即链上日志的 topic0
func (k EventKind) Topic() common.Hash {
	sig, ok := eventSignatures[k]
	if !ok {
		return common.Hash{}
	}
	return crypto.Keccak256Hash([]byte(sig))
}

// Event 登记簿事件
//
// Actor 对创建和提取事件是活动所有者，对参与事件是贡献者。
// 创建事件携带活动的全部不可变字段，以便从事件日志重建登记簿。
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	CampaignID uint64         `json:"campaign_id"`
	Actor      common.Address `json:"actor"`
	Amount     *big.Int       `json:"amount"`
	OccurredAt time.Time      `json:"occurred_at"`

	// 仅参与事件，链上托管时为贡献转账的交易哈希
	TxHash *common.Hash `json:"tx_hash,omitempty"`

	// 仅创建事件
	Title               string     `json:"title,omitempty"`
	Description         string     `json:"description,omitempty"`
	ParticipationAmount *big.Int   `json:"participation_amount,omitempty"`
	Deadline            *time.Time `json:"deadline,omitempty"`
}
