package registry

import (
	"fmt"
	"math/big"
)

// Replay 按事件日志重建登记簿，只能在空登记簿上调用
//
// 重放不经过托管、日志和通知，也不做截止时间校验：日志中的事件都是曾经被接受的操作。
func (r *Registry) Replay(events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.campaigns) != 0 || r.seq != 0 {
		return fmt.Errorf("replay into non-empty registry")
	}

	for _, event := range events {
		if event.Seq != r.seq+1 {
			return fmt.Errorf("event sequence gap: expected %d, got %d", r.seq+1, event.Seq)
		}
		if err := r.apply(event); err != nil {
			return fmt.Errorf("apply event %d (%s): %w", event.Seq, event.Kind, err)
		}
		r.seq = event.Seq
	}
	return nil
}

func (r *Registry) apply(event Event) error {
	switch event.Kind {
	case EventCampaignCreated:
		if event.CampaignID != uint64(len(r.campaigns)) {
			return fmt.Errorf("campaign id %d out of order, next is %d", event.CampaignID, len(r.campaigns))
		}
		if event.ParticipationAmount == nil || event.ParticipationAmount.Sign() <= 0 {
			return fmt.Errorf("%w: participation amount missing", ErrInvalidArgument)
		}
		if event.Deadline == nil {
			return fmt.Errorf("%w: deadline missing", ErrInvalidArgument)
		}
		r.campaigns = append(r.campaigns, &Campaign{
			ID:                  event.CampaignID,
			Title:               event.Title,
			Description:         event.Description,
			Owner:               event.Actor,
			ParticipationAmount: new(big.Int).Set(event.ParticipationAmount),
			TotalFundingAmount:  new(big.Int),
			Deadline:            *event.Deadline,
			CreatedAt:           event.OccurredAt,
		})

	case EventCampaignParticipated:
		campaign, err := r.lookup(event.CampaignID)
		if err != nil {
			return err
		}
		if event.Amount == nil || event.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: contribution amount missing", ErrInvalidArgument)
		}
		key := ledgerKey{contributor: event.Actor, campaignID: event.CampaignID}
		entry, ok := r.ledger[key]
		if !ok {
			entry = new(big.Int)
			r.ledger[key] = entry
		}
		if event.TxHash != nil {
			if _, used := r.payments[*event.TxHash]; used {
				return fmt.Errorf("%w: transaction %s counted twice", ErrPaymentRejected, event.TxHash.Hex())
			}
			r.payments[*event.TxHash] = struct{}{}
		}
		entry.Add(entry, event.Amount)
		campaign.TotalFundingAmount.Add(campaign.TotalFundingAmount, event.Amount)

	case EventCampaignWithdrawn:
		campaign, err := r.lookup(event.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Withdrawn {
			return ErrAlreadyWithdrawn
		}
		campaign.Withdrawn = true

	case EventCampaignWithdrawalFailed:
		campaign, err := r.lookup(event.CampaignID)
		if err != nil {
			return err
		}
		if !campaign.Withdrawn {
			return fmt.Errorf("withdrawal failure for campaign %d without a withdrawal", event.CampaignID)
		}
		campaign.Withdrawn = false

	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return nil
}
