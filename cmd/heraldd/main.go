package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/heraldhq/herald/autopost/publisher"
	"github.com/heraldhq/herald/autopost/replies"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport/gateway"

	"github.com/adrg/xdg"
	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "heraldd",
		Usage:   "scheduled publishing daemon for messaging accounts",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "gateway-host",
			Usage:   "method, hostname, and port of the session gateway",
			Value:   "http://localhost:8700",
			EnvVars: []string{"HERALD_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "bearer token for the session gateway",
			EnvVars: []string{"HERALD_GATEWAY_TOKEN"},
		},
		&cli.Float64Flag{
			Name:    "gateway-rate-limit",
			Usage:   "max requests per second to the session gateway",
			Value:   20,
			EnvVars: []string{"HERALD_GATEWAY_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"HERALD_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string; defaults to a sqlite file in the user state directory",
			EnvVars: []string{"HERALD_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"HERALD_MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for shared freeze, cooldown and cursor state",
			EnvVars: []string{"HERALD_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for operator notifications",
			EnvVars: []string{"HERALD_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.BoolFlag{
			Name:    "notify-self",
			Usage:   "also deliver operator notifications to each account's own saved messages",
			EnvVars: []string{"HERALD_NOTIFY_SELF"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin API",
			Value:   ":3999",
			EnvVars: []string{"HERALD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"HERALD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token required on admin API requests",
			EnvVars: []string{"HERALD_ADMIN_TOKEN"},
		},
		&cli.DurationFlag{
			Name:    "inter-send-delay",
			Usage:   "pause between sends to consecutive destinations",
			Value:   publisher.DefaultInterSendDelay,
			EnvVars: []string{"HERALD_INTER_SEND_DELAY"},
		},
		&cli.DurationFlag{
			Name:    "danger-cooldown",
			Usage:   "how long to hold off publishing after a watched identity is seen online",
			Value:   publisher.DefaultDangerCooldown,
			EnvVars: []string{"HERALD_DANGER_COOLDOWN"},
		},
		&cli.DurationFlag{
			Name:    "recency-window",
			Usage:   "a watched identity last seen within this window counts as present",
			Value:   5 * time.Minute,
			EnvVars: []string{"HERALD_RECENCY_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "cooldown-window",
			Usage:   "minimum time between automated replies for the same keyword, sender and destination",
			Value:   10 * time.Minute,
			EnvVars: []string{"HERALD_COOLDOWN_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "lease-ttl",
			Usage:   "how long temporary memberships last before the account leaves",
			Value:   24 * time.Hour,
			EnvVars: []string{"HERALD_LEASE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "reaper-period",
			Usage:   "how often expired temporary memberships are checked",
			Value:   time.Hour,
			EnvVars: []string{"HERALD_REAPER_PERIOD"},
		},
		&cli.DurationFlag{
			Name:    "stop-timeout",
			Usage:   "how long to wait for a publishing loop to exit when reconfiguring",
			Value:   publisher.DefaultStopTimeout,
			EnvVars: []string{"HERALD_STOP_TIMEOUT"},
		},
		&cli.Int64Flag{
			Name:    "max-sends-per-hour",
			Usage:   "per-account cap on published messages in any hour; zero disables",
			EnvVars: []string{"HERALD_MAX_SENDS_PER_HOUR"},
		},
		&cli.DurationFlag{
			Name:    "reply-delay",
			Usage:   "how long the account shows as typing before an automated reply is sent; zero replies immediately",
			EnvVars: []string{"HERALD_REPLY_DELAY"},
		},
		&cli.StringFlag{
			Name:    "working-hours",
			Usage:   "local hours when automated replies are sent, like '9-23'; empty means always",
			EnvVars: []string{"HERALD_WORKING_HOURS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := configLogger(cctx)
		slog.SetDefault(logger)

		shutdownOTEL, err := setupOTEL(ctx)
		if err != nil {
			return err
		}
		if shutdownOTEL != nil {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTEL(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()
		}

		dburl := cctx.String("database-url")
		if dburl == "" {
			fpath, err := xdg.StateFile("herald/herald.sqlite")
			if err != nil {
				return fmt.Errorf("locating default database path: %w", err)
			}
			dburl = "sqlite://" + fpath
		}
		db, err := store.SetupDatabase(dburl, cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if shutdownOTEL != nil {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}
		st, err := store.NewGormStore(db)
		if err != nil {
			return err
		}

		hours, err := replies.ParseWorkingHours(cctx.String("working-hours"))
		if err != nil {
			return err
		}

		gw := gateway.NewClient(
			cctx.String("gateway-host"),
			cctx.String("gateway-token"),
			cctx.Float64("gateway-rate-limit"),
			logger,
		)

		srv, err := NewServer(
			st,
			gw,
			Config{
				GatewayHost:     cctx.String("gateway-host"),
				GatewayToken:    cctx.String("gateway-token"),
				RedisURL:        cctx.String("redis-url"),
				SlackWebhookURL: cctx.String("slack-webhook-url"),
				NotifySelf:      cctx.Bool("notify-self"),
				AdminToken:      cctx.String("admin-token"),
				Loop: publisher.LoopConfig{
					InterSendDelay:      cctx.Duration("inter-send-delay"),
					DangerCooldown:      cctx.Duration("danger-cooldown"),
					StoreRetryDelay:     publisher.DefaultStoreRetryDelay,
					MaxRateLimitRetries: publisher.DefaultMaxRateLimitRetries,
				},
				StopTimeout:     cctx.Duration("stop-timeout"),
				MaxSendsPerHour: cctx.Int64("max-sends-per-hour"),
				RecencyWindow:   cctx.Duration("recency-window"),
				CooldownWindow:  cctx.Duration("cooldown-window"),
				LeaseTTL:        cctx.Duration("lease-ttl"),
				ReaperPeriod:    cctx.Duration("reaper-period"),
				WorkingHours:    hours,
				ReplyDelay:      cctx.Duration("reply-delay"),
				Logger:          logger,
			},
		)
		if err != nil {
			return err
		}

		if err := srv.Run(ctx, cctx.String("bind"), cctx.String("metrics-listen")); err != nil {
			return fmt.Errorf("failed to run herald service: %w", err)
		}
		return nil
	},
}

func configLogger(cctx *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
