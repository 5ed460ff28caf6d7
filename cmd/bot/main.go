package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/bot"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/config"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/drivesync"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/line"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/llm"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/scheduler"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lineClient := line.NewClient(cfg.LineChannelAccessToken)
	notifier := line.NewNotifier(lineClient, cfg.AdminUserIDs)

	llmClient, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider))
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}
	if p, ok := llmClient.(llm.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.Ping(pingCtx); err != nil {
			log.Printf("⚠️ llm backend not responding, will retry on requests: %v", err)
		} else {
			log.Printf("✅ llm backend is available")
		}
		cancel()
	}

	configs := newConfigCache(ctx, cfg, notifier)
	if configs.Configured() {
		configs.StartPolling(ctx, cfg.DriveSyncInterval)
		defer configs.StopPolling()
		log.Printf("✅ drive sync started (every %s)", cfg.DriveSyncInterval)
	} else {
		log.Printf("ℹ️ drive sync not configured, using default prompt")
	}

	b := bot.New(cfg, lineClient, llmClient, configs)
	b.StartWorker(ctx)

	if cfg.ScheduledMessagesEnabled && cfg.ScheduledGroupID != "" {
		sched, err := scheduler.New(lineClient)
		if err != nil {
			log.Fatalf("failed to init scheduler: %v", err)
		}
		mustAddWeekly(sched, "monday_workout_reminder", time.Monday, 21, 0, cfg.ScheduledGroupID, "明天操一下嗎?")
		mustAddWeekly(sched, "pineapple_workout_reminder", time.Monday, 21, 30, cfg.ScheduledGroupID, "啊哈！@鳳梨 還沒回覆督促一下")
		sched.Start()
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           b.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✅ listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	log.Printf("shutdown complete")
}

func newConfigCache(ctx context.Context, cfg *config.Config, notifier *line.Notifier) *drivesync.Cache {
	var fetcher drivesync.Fetcher
	if cfg.ServiceAccountFile != "" && cfg.DriveFolderID != "" {
		df, err := drivesync.NewDriveFetcher(ctx, cfg.ServiceAccountFile, cfg.DriveFolderID)
		if err != nil {
			log.Printf("⚠️ drive fetcher init failed, using defaults: %v", err)
		} else {
			fetcher = df
		}
	}
	return drivesync.NewCache(fetcher, notifier, cfg.CacheDir, cfg.CacheMaxSizeMB*1024*1024, 3)
}

func mustAddWeekly(s *scheduler.Scheduler, id string, day time.Weekday, hour, minute int, groupID, msg string) {
	if err := s.AddWeekly(id, day, hour, minute, groupID, msg); err != nil {
		log.Fatalf("failed to schedule %s: %v", id, err)
	}
}
