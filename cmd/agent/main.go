package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/background"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/config"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/presence"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/tracker"
)

const statusInterval = 30 * time.Second

var errNoOwner = errors.New("agent: owner id unknown; set AGENT_OWNER_ID or use a relay token")

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig func() config.Agent
	login      func(ctx context.Context, baseURL, email, password string) (string, error)
	notify     func(chan<- os.Signal, ...os.Signal)
	run        func(context.Context, config.Agent, string, <-chan os.Signal) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig: config.LoadAgent,
		login:      syncclient.Login,
		notify:     signal.Notify,
		run:        Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	applog.Init(cfg.LogLevel)
	logger := applog.L()

	token := cfg.Token
	if token == "" {
		ctx, cancel := context.WithTimeout(context.Background(), syncclient.DefaultTimeout)
		var err error
		token, err = deps.login(ctx, cfg.ServerURL, cfg.Email, cfg.Password)
		cancel()
		if err != nil {
			logger.Error("login failed", "server", cfg.ServerURL, "err", err)
			return
		}
	}
	if cfg.OwnerID == "" {
		cfg.OwnerID = ownerFromToken(token)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, token, signals); err != nil {
		logger.Error("agent exited with error", "err", err)
	}
}

// ownerFromToken reads the user id claim. The relay verifies the signature.
func ownerFromToken(token string) string {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.UserID
}

func accuracyProfile(high bool) geosource.AccuracyProfile {
	if high {
		return geosource.AccuracyHigh
	}
	return geosource.AccuracyBalanced
}

// Run tracks the configured group until a signal arrives or ctx is done.
func Run(ctx context.Context, cfg config.Agent, token string, signals <-chan os.Signal) error {
	if cfg.OwnerID == "" {
		return errNoOwner
	}
	route, err := geosource.ParseRoute(cfg.Route)
	if err != nil {
		return fmt.Errorf("agent: route: %w", err)
	}
	logger := applog.With("owner", cfg.OwnerID)

	tokens := syncclient.StaticToken(token)
	client := syncclient.New(cfg.ServerURL, tokens, syncclient.Options{Logger: logger})
	defer client.Wait()

	platform := geosource.NewReplayPlatform(route, cfg.FixInterval)
	watch := geosource.WatchOptions{Accuracy: accuracyProfile(cfg.HighAccuracy), MinInterval: cfg.FixInterval}

	var scheduler background.Scheduler
	if cfg.Background {
		scheduler = background.NewBufferedScheduler(platform, cfg.BatchInterval, watch, logger)
	}
	task := background.NewTask(cfg.OwnerID, client, logger)

	sync := presence.New(presence.Config{
		SelfID:       cfg.OwnerID,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	}, &presence.WebSocketDialer{URL: cfg.StreamURL, Tokens: tokens}, client)

	engine := tracker.New(tracker.Config{OwnerID: cfg.OwnerID, Watch: watch, Logger: logger}, tracker.Deps{
		Adapter:    geosource.NewAdapter(platform, logger),
		Scheduler:  scheduler,
		Task:       task,
		Presence:   sync,
		Dispatcher: client,
	})

	if err := engine.SelectGroup(ctx, cfg.GroupID); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-signals:
			return engine.Stop()
		case <-ctx.Done():
			return engine.Stop()
		case n := <-engine.Notices():
			logNotice(logger, n)
		case <-ticker.C:
			logStatus(logger, engine, task)
		}
	}
}

func logNotice(logger *slog.Logger, n tracker.Notice) {
	if n.Level == tracker.NoticeWarning {
		logger.Warn(n.Message, "code", n.Code)
		return
	}
	logger.Info(n.Message, "code", n.Code)
}

func logStatus(logger *slog.Logger, engine *tracker.Engine, task *background.Task) {
	snap := engine.Trajectory()
	session := engine.Session()
	stats := task.Stats()
	online := 0
	for _, m := range engine.Members() {
		if m.IsOnline {
			online++
		}
	}
	logger.Info("tracking status",
		"session", session.ID,
		"mode", session.Mode.String(),
		"points", len(snap.Points),
		"distance_m", snap.DistanceM,
		"speed_kmh", snap.SpeedKmh,
		"members", len(engine.Members()),
		"online", online,
		"sent", stats.Sent,
		"failed", stats.Failed,
	)
}
