// Package notify 把已写入事件日志的登记簿事件投递给日志、websocket 订阅者和 pg_notify 频道。
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/registry"
	"github.com/panjf2000/ants/v2"
)

// Sink 事件接收端
type Sink interface {
	Name() string
	Publish(ctx context.Context, event registry.Event) error
}

// Fanout 通过协程池把事件并发投递给所有接收端
//
// Notify 等待所有接收端返回后才结束，因此同一接收端看到的事件顺序与序号一致。
type Fanout struct {
	pool  *ants.Pool // 协程池
	sinks []Sink
}

// NewFanout 创建事件分发器
func NewFanout(poolSize int, sinks ...Sink) (*Fanout, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create notify pool of size %d: %w", poolSize, err)
	}
	for _, s := range sinks {
		logger.Info("Registered event sink: %s", s.Name())
	}
	return &Fanout{pool: pool, sinks: sinks}, nil
}

// Notify 实现 registry.Notifier，接收端的错误只记录日志
func (f *Fanout) Notify(ctx context.Context, event registry.Event) {
	// 调用方取消请求不影响事件投递
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, sink := range f.sinks {
		sink := sink
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := sink.Publish(ctx, event); err != nil {
				logger.Error("Sink %s failed to publish event %d (%s): %v", sink.Name(), event.Seq, event.Kind, err)
			}
		}
		if err := f.pool.Submit(task); err != nil {
			logger.Warn("Failed to submit event %d to pool, publishing inline: %v", event.Seq, err)
			task()
		}
	}
	wg.Wait()
}

// Release 释放协程池
func (f *Fanout) Release() {
	f.pool.Release()
}

// LogSink 把事件写入日志
type LogSink struct{}

// Name 接收端名称
func (LogSink) Name() string {
	return "log"
}

// Publish 记录事件
func (LogSink) Publish(_ context.Context, event registry.Event) error {
	logger.Debug("Event seq=%d kind=%s topic=%s campaign=%d actor=%s amount=%s",
		event.Seq, event.Kind, event.Kind.Topic().Hex(), event.CampaignID, event.Actor.Hex(), event.Amount)
	return nil
}
