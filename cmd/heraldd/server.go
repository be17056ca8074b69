package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/heraldhq/herald/autopost"
	"github.com/heraldhq/herald/autopost/cooldown"
	"github.com/heraldhq/herald/autopost/freeze"
	"github.com/heraldhq/herald/autopost/notify"
	"github.com/heraldhq/herald/autopost/publisher"
	"github.com/heraldhq/herald/autopost/radar"
	"github.com/heraldhq/herald/autopost/reaper"
	"github.com/heraldhq/herald/autopost/refstore"
	"github.com/heraldhq/herald/autopost/replies"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	feedURL    string
	feedToken  string
	adminToken string
	logger     *slog.Logger
	store      store.Store
	ledger     freeze.Ledger
	gate       cooldown.Gate
	supervisor *publisher.Supervisor
	reaper     *reaper.Reaper
	engine     *autopost.Engine
	rdb        *redis.Client
	echo       *echo.Echo
	lastSeq    int64
}

type Config struct {
	// base URL of the session gateway, http(s)://; the event feed is reached on the same host over ws(s)://
	GatewayHost     string
	GatewayToken    string
	RedisURL        string
	SlackWebhookURL string
	NotifySelf      bool
	AdminToken      string
	Loop            publisher.LoopConfig
	StopTimeout     time.Duration
	MaxSendsPerHour int64
	RecencyWindow   time.Duration
	CooldownWindow  time.Duration
	LeaseTTL        time.Duration
	ReaperPeriod    time.Duration
	WorkingHours    replies.WorkingHours
	ReplyDelay      time.Duration
	Logger          *slog.Logger
}

func feedURLFromHost(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid gateway host: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("specified gateway host must include 'http://' or 'https://'")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

func NewServer(st store.Store, tr transport.Transport, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	feedURL, err := feedURLFromHost(config.GatewayHost)
	if err != nil {
		return nil, err
	}

	var ledger freeze.Ledger
	var gate cooldown.Gate
	var refs refstore.RefStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		// shared client, also used for cursor state
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		ledger = freeze.NewRedisLedger(rdb)
		gate = cooldown.NewRedisGate(rdb, config.CooldownWindow)
		refs = refstore.NewRedisRefStore(rdb, 7*24*time.Hour)
	} else {
		logger.Warn("redis not configured, freeze state and cooldowns will not survive restarts")
		ledger = freeze.NewMemLedger()
		gate = cooldown.NewMemGate(config.CooldownWindow)
		refs = refstore.NewMemRefStore(50_000, 7*24*time.Hour)
	}

	notifiers := notify.Multi{&notify.LogNotifier{Logger: logger}}
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack operator notifications")
		notifiers = append(notifiers, &notify.SlackNotifier{SlackWebhookURL: config.SlackWebhookURL})
	}
	if config.NotifySelf {
		notifiers = append(notifiers, &notify.SelfNotifier{Transport: tr})
	}

	rdr := radar.NewRadar(tr, st, config.RecencyWindow, logger)
	loop := publisher.NewLoop(st, ledger, rdr, refs, tr, config.Loop, logger)
	if config.MaxSendsPerHour > 0 {
		loop.Budget = publisher.NewSendBudget(config.MaxSendsPerHour)
	}
	sup := publisher.NewSupervisor(st, loop, notifiers, logger)
	if config.StopTimeout > 0 {
		sup.StopTimeout = config.StopTimeout
	}

	responder := replies.NewResponder(st, gate, tr, config.WorkingHours, logger)
	responder.Delay = config.ReplyDelay
	engine := autopost.Engine{
		Logger:  logger,
		Freeze:  freeze.NewHooks(ledger, tr, notifiers, logger),
		Replies: responder,
	}

	s := &Server{
		feedURL:    feedURL,
		feedToken:  config.GatewayToken,
		adminToken: config.AdminToken,
		logger:     logger,
		store:      st,
		ledger:     ledger,
		gate:       gate,
		supervisor: sup,
		reaper:     reaper.NewReaper(st, tr, config.LeaseTTL, config.ReaperPeriod, logger),
		engine:     &engine,
		rdb:        rdb,
	}
	s.echo = s.newEcho()
	return s, nil
}

// Runs every long-lived component until ctx is cancelled, then shuts them down.
func (s *Server) Run(ctx context.Context, bind, metricsListen string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.RunMetrics(ctx, metricsListen)
	})
	g.Go(func() error {
		return s.RunAPI(ctx, bind)
	})
	g.Go(func() error {
		return s.RunConsumer(ctx)
	})
	g.Go(func() error {
		return s.RunPersistCursor(ctx)
	})
	g.Go(func() error {
		return s.reaper.Run(ctx)
	})
	g.Go(func() error {
		return s.RunCooldownSweep(ctx)
	})
	g.Go(func() error {
		// resume every active job left over from the previous run
		if err := s.supervisor.ReconfigureAll(ctx); err != nil {
			s.logger.Error("failed to resume some publishing jobs", "err", err)
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.supervisor.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	// delayed replies see the cancelled context and release their cooldown entries
	s.engine.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) RunMetrics(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    listen,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("starting metrics endpoint", "listen", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	return nil
}

// Periodically drops expired in-process cooldown entries. Redis expires its own keys.
func (s *Server) RunCooldownSweep(ctx context.Context) error {
	mg, ok := s.gate.(*cooldown.MemGate)
	if !ok {
		return nil
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := mg.Sweep(); n > 0 {
				s.logger.Debug("swept cooldown entries", "count", n)
			}
		}
	}
}

var cursorKey = "herald/seq"

func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no pre-existing cursor in redis")
		return 0, nil
	}
	s.logger.Info("successfully found prior feed cursor seq in redis", "seq", val)
	return val, err
}

func (s *Server) PersistCursor(ctx context.Context) error {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	seq := atomic.LoadInt64(&s.lastSeq)
	if seq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, seq, 14*24*time.Hour).Err()
}

// this method runs in a loop, persisting the current cursor state every 5 seconds
func (s *Server) RunPersistCursor(ctx context.Context) error {

	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			seq := atomic.LoadInt64(&s.lastSeq)
			if seq >= 1 {
				s.logger.Info("persisting final cursor seq value", "seq", seq)
				// ctx is already cancelled
				finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.PersistCursor(finalCtx)
				cancel()
				if err != nil {
					s.logger.Error("failed to persist cursor", "err", err, "seq", seq)
				}
			}
			return nil
		case <-ticker.C:
			if err := s.PersistCursor(ctx); err != nil {
				s.logger.Error("failed to persist cursor", "err", err, "seq", atomic.LoadInt64(&s.lastSeq))
			}
		}
	}
}
