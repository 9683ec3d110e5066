package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/cfledger/internal/config"
	"github.com/blues/cfledger/internal/custody"
	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/logic"
	"github.com/blues/cfledger/internal/notify"
	"github.com/blues/cfledger/internal/registry"
	"github.com/blues/cfledger/internal/repository"
	"github.com/blues/cfledger/internal/router"
	"github.com/blues/cfledger/internal/scheduler"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("Server exited: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化托管
	vault := custody.NewVault()
	var funds registry.Custody = vault
	if cfg.Chain.Enabled {
		ethCustody, err := custody.DialEthCustody(custody.EthConfig{
			RpcUrl:     cfg.Chain.RpcUrl,
			PrivateKey: cfg.Chain.PrivateKey,
			ChainId:    cfg.Chain.ChainId,
			WaitMined:  cfg.Chain.WaitMined,
		}, vault)
		if err != nil {
			return fmt.Errorf("initialize chain custody: %w", err)
		}
		logger.Info("Chain custody enabled, account %s", ethCustody.Address().Hex())
		funds = ethCustody
	}

	// 初始化事件投递
	sinks := []notify.Sink{notify.LogSink{}}

	var (
		store   *repository.EventStore
		journal registry.Journal
		events  []registry.Event
	)
	if cfg.Database.Enabled {
		db, err := repository.Init(cfg.Database)
		if err != nil {
			return err
		}
		store = repository.NewEventStore(db)
		if events, err = store.LoadEvents(ctx); err != nil {
			return fmt.Errorf("load event log: %w", err)
		}
		journal = store
	}

	var hub *notify.Hub
	if cfg.Notify.Websocket {
		hub = notify.NewHub()
		defer hub.Close()
		sinks = append(sinks, hub)
	}

	if cfg.Notify.PGChannel != "" {
		pg, err := notify.NewPGNotifier(ctx, cfg.Database.DSN(), cfg.Notify.PGChannel)
		if err != nil {
			return err
		}
		defer pg.Close()
		sinks = append(sinks, pg)
	}

	fanout, err := notify.NewFanout(cfg.Notify.PoolSize, sinks...)
	if err != nil {
		return err
	}
	defer fanout.Release()

	// 重建登记簿
	reg := registry.New(funds, journal, fanout)
	if err := reg.Replay(events); err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	for _, campaign := range reg.Campaigns() {
		if !campaign.Withdrawn {
			vault.Restore(campaign.ID, campaign.TotalFundingAmount)
		}
	}
	logger.Info("Registry rebuilt from %d events, %d campaigns", len(events), reg.Len())

	var history logic.History
	if store != nil {
		history = store
	}
	campaignLogic := logic.NewCampaignLogic(reg, history, nil)

	// 启动定时任务
	if store != nil {
		manager, err := scheduler.NewManager(time.Duration(cfg.Scheduler.Interval) * time.Second)
		if err != nil {
			return err
		}
		if err := manager.Register(scheduler.NewCampaignStatusJob(reg, store, nil)); err != nil {
			return err
		}
		manager.Start()
		defer manager.Stop()
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Setup(campaignLogic, hub),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
