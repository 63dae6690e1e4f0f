// cmd/jobpilot/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobpilot/internal/common/aws"
	"jobpilot/internal/common/config"
	"jobpilot/internal/common/database"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/common/validation"
	"jobpilot/internal/engine"
	"jobpilot/internal/identity"
	"jobpilot/internal/ledger"
	"jobpilot/internal/platform"
	"jobpilot/internal/report"
	"jobpilot/internal/session"
	"jobpilot/internal/verify"

	// Platform drivers register themselves on import.
	_ "jobpilot/internal/platform/greenhouse"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to config file (default: search ./configs)")
		platforms  = flag.String("platforms", "", "comma-separated platforms to run (default: all enabled)")
		maxApps    = flag.Int("max-apps", 0, "cap on applications this run (default: session.max_applications)")
		dryRun     = flag.Bool("dry-run", false, "walk postings through the pipeline without submitting")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return exitFailure
	}

	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	zapLog := logger.New(level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting jobpilot",
		zap.String("version", cfg.App.Version),
		zap.Bool("dryRun", *dryRun),
	)

	// Root context cancelled on the first signal. The engine finishes the
	// in-flight ledger transition before unwinding; a second signal kills
	// the process the hard way.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		interrupted.Store(true)
		zapLog.Info("shutdown signal received, finishing current transition...")
		cancel()
		<-sigCh
		zapLog.Warn("second signal, exiting immediately")
		os.Exit(exitInterrupted)
	}()

	profile, err := validation.ValidateProfile(cfg.Profile.AnswersPath)
	if err != nil {
		zapLog.Error("profile validation failed", zap.Error(err))
		return exitFailure
	}
	zapLog.Info("profile loaded", zap.Int("answers", len(profile)))

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Error("postgres failed after retries", zap.Error(err))
		return exitFailure
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected")

	led := ledger.NewPostgres(pg.DB, log)
	if err := led.EnsureSchema(ctx); err != nil {
		zapLog.Error("ledger schema migration failed", zap.Error(err))
		return exitFailure
	}

	// --- Init Redis with retry; pacing and cooldown persistence degrade
	// without it, so a dead Redis is not fatal ---
	var redisClient *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 3, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Warn("redis unavailable, pacing falls back to local delays", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			zapLog.Info("Redis connected")
		}
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			zapLog.Info("metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				zapLog.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	pool := identity.NewPool(cfg.Identities, cfg.Pool, rdb(redisClient), log)
	zapLog.Info("identity pool ready", zap.Int("identities", pool.Size()))

	mailbox := verify.NewIMAPMailbox(cfg.Mailbox, log)
	poller := verify.NewPoller(mailbox, cfg.Session.VerifyMailboxCap, log)

	names := selectPlatforms(cfg, *platforms)
	if len(names) == 0 {
		zapLog.Error("no platforms enabled", zap.Strings("registered", platform.Registered()))
		return exitFailure
	}
	drivers := make(map[string]platform.Driver, len(names))
	for _, name := range names {
		driver, err := platform.Open(name, cfg.Platforms[name], log)
		if err != nil {
			zapLog.Error("driver init failed", zap.String("platform", name), zap.Error(err))
			return exitFailure
		}
		drivers[name] = driver
	}
	zapLog.Info("drivers ready", zap.Strings("platforms", names))

	filter := platform.NewKeywordFilter(cfg.Filter)
	eng := engine.New(led, pool, poller, filter, profile, cfg.Session, log)
	pacer := session.NewPacer(rdb(redisClient), cfg.Session, log)

	reporters := []report.Reporter{report.NewLogReporter(log)}
	var alerter *report.SMSAlerter
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		region := cfg.Notifications.AWS.Region
		if cfg.Notifications.Email.Enabled {
			ses, err := aws.NewSESClient(ctx, region)
			if err != nil {
				zapLog.Warn("ses client init failed, email report disabled", zap.Error(err))
			} else {
				reporters = append(reporters, report.NewEmailReporter(ses, cfg.Notifications))
			}
		}
		if cfg.Notifications.SMS.Enabled {
			sns, err := aws.NewSNSClient(ctx, region)
			if err != nil {
				zapLog.Warn("sns client init failed, sms alerts disabled", zap.Error(err))
			} else {
				alerter = report.NewSMSAlerter(sns, cfg.Notifications, log)
				reporters = append(reporters, alerter)
			}
		}
	}
	reporter := report.NewMultiReporter(log, reporters...)

	orch := session.NewOrchestrator(cfg, led, eng, pacer, reporter, drivers, log)

	summary, runErr := orch.Run(ctx, names, *maxApps, *dryRun)
	if summary != nil {
		fmt.Println(report.FormatSummary(summary))
	}

	if *verbose {
		recent, err := led.Recent(context.Background(), 20)
		if err != nil {
			log.Warn("recent applications lookup failed", map[string]interface{}{"error": err.Error()})
		}
		for _, rec := range recent {
			log.Debug("ledger record", map[string]interface{}{
				"key":     rec.Key.String(),
				"stage":   string(rec.Stage),
				"outcome": string(rec.Outcome),
				"retries": rec.Retries,
			})
		}
	}

	if runErr == nil {
		return exitOK
	}

	if interrupted.Load() || errors.Is(runErr, context.Canceled) {
		zapLog.Info("run interrupted", zap.Int("applied", summary.Applied))
		return exitInterrupted
	}

	zapLog.Error("run aborted",
		zap.String("code", string(apperrors.CodeOf(runErr))),
		zap.Error(runErr),
	)
	if alerter != nil {
		alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
		alerter.Alert(alertCtx, fmt.Sprintf("jobpilot run %s aborted: %v", summary.RunID, runErr))
		alertCancel()
	}
	return exitFailure
}

// selectPlatforms resolves the --platforms flag against the enabled set.
func selectPlatforms(cfg *config.Config, flagValue string) []string {
	if flagValue != "" {
		var names []string
		for _, name := range strings.Split(flagValue, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		return names
	}

	var names []string
	for name, pcfg := range cfg.Platforms {
		if pcfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func rdb(client *database.RedisClient) *redis.Client {
	if client == nil {
		return nil
	}
	return client.Client
}
