package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blues/cfledger/internal/registry"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgPayload pg_notify 负载，不含标题和描述以控制在 8000 字节内
type pgPayload struct {
	ID         string `json:"id"`
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	Topic      string `json:"topic"`
	CampaignID uint64 `json:"campaign_id"`
	Actor      string `json:"actor"`
	Amount     string `json:"amount"`
}

// PGNotifier 通过 pg_notify 广播事件
type PGNotifier struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGNotifier 建立连接池
func NewPGNotifier(ctx context.Context, dsn, channel string) (*PGNotifier, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGNotifier{pool: pool, channel: channel}, nil
}

// Name 接收端名称
func (p *PGNotifier) Name() string {
	return "pg_notify:" + p.channel
}

// Publish 发送通知
func (p *PGNotifier) Publish(ctx context.Context, event registry.Event) error {
	payload := pgPayload{
		ID:         event.ID.String(),
		Seq:        event.Seq,
		Kind:       string(event.Kind),
		Topic:      event.Kind.Topic().Hex(),
		CampaignID: event.CampaignID,
		Actor:      event.Actor.Hex(),
		Amount:     "0",
	}
	if event.Amount != nil {
		payload.Amount = event.Amount.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify on %s: %w", p.channel, err)
	}
	return nil
}

// Close 关闭连接池
func (p *PGNotifier) Close() {
	p.pool.Close()
}
