package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/hostdeck/internal/alerting"
	"github.com/good-yellow-bee/hostdeck/internal/api"
	"github.com/good-yellow-bee/hostdeck/internal/api/health"
	"github.com/good-yellow-bee/hostdeck/internal/deploy"
	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/monitor"
	"github.com/good-yellow-bee/hostdeck/internal/notifier"
	"github.com/good-yellow-bee/hostdeck/internal/queue"
	"github.com/good-yellow-bee/hostdeck/internal/services"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
	"github.com/good-yellow-bee/hostdeck/internal/vault"
	"github.com/good-yellow-bee/hostdeck/pkg/config"
)

var (
	configFile string
	envFile    string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hostdeck-server",
	Short: "HostDeck Server - deploys, jobs and host monitoring",
	Long: `HostDeck Server accepts push webhooks, runs deployments through its
job queue, samples host metrics and fires alerts.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hostdeck-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading secrets")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := loadDotEnv(envFile); err != nil {
		return err
	}

	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	if verbose {
		cfg.Verbose = true
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.usesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		log.Printf("connected to redis at %s", cfg.Redis.Address)
	}

	// Queue
	var backend queue.Backend
	var redisBackend *queue.RedisBackend
	if cfg.Queue.Backend == "redis" {
		redisBackend = queue.NewRedisBackend(rdb, cfg.Queue.RetryAfter)
		backend = redisBackend
	} else {
		backend = queue.NewDatabaseBackend(store.Jobs(), cfg.Queue.RetryAfter)
	}
	q := queue.New(backend, store.FailedJobs())
	log.Printf("job queue backend: %s", backend.Name())

	// Deployments
	keys, err := vault.New(store.Credentials(), vault.Config{
		KeyDir:    cfg.Deploy.KeyDir,
		MasterKey: []byte(cfg.MasterKey),
	})
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}

	var audit deploy.AuditLogger = deploy.NopAuditLogger{}
	if cfg.Deploy.AuditLog != "" {
		jsonAudit, err := deploy.NewJSONAuditLogger(cfg.Deploy.AuditLog)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		audit = jsonAudit
	}
	defer audit.Close()

	var locker deploy.Locker = deploy.NewLocalLocker()
	if cfg.Deploy.Lock == "redis" {
		locker = deploy.NewRedisLocker(rdb, cfg.Deploy.LockTTL)
	}

	engine := deploy.NewEngine(store.Deployments(), store.Targets(), keys, deploy.Config{
		Locker:      locker,
		Audit:       audit,
		HookTimeout: cfg.Deploy.HookTimeout,
	})

	worker := queue.NewWorker(q, queue.WorkerConfig{
		Queues:       cfg.Queue.Queues,
		Concurrency:  cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
	})
	worker.Handle(deploy.JobName, engine.Handler())

	// Alerts
	dispatcher := notifier.NewDispatcherWithRateLimit(cfg.Notifications.RateLimit)
	defer dispatcher.Close()
	dispatcher.Register(notifier.NewSlackNotifier(nil))
	if cfg.Notifications.SMTP != nil {
		email, err := notifier.NewEmailNotifier(*cfg.Notifications.SMTP)
		if err != nil {
			return fmt.Errorf("create email notifier: %w", err)
		}
		dispatcher.Register(email)
	}

	var prober alerting.ServiceProber
	if ctl, err := services.Detect(nil); err != nil {
		log.Printf("warning: service checks disabled: %v", err)
	} else {
		prober = ctl
	}
	alerts := alerting.NewEngine(store.AlertRules(), store.Alerts(), prober, dispatcher)

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Alerts.RulesFile != "" {
		rs := alerting.NewRuleSync(store.AlertRules(), cfg.Alerts.RulesFile)
		res, err := rs.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync alert rules: %w", err)
		}
		log.Printf("alert rules synced from %s: %d created, %d updated", cfg.Alerts.RulesFile, res.Created, res.Updated)
		g.Go(func() error { return rs.Watch(gCtx) })
	}

	// Monitoring
	if !cfg.Monitor.Disabled {
		samplerCfg := monitor.SamplerConfig{
			ProcPath: cfg.Monitor.ProcPath,
			DiskPath: cfg.Monitor.DiskPath,
		}
		if cfg.Monitor.MySQLDSN != "" {
			probe, err := monitor.NewMySQLProbe(cfg.Monitor.MySQLDSN)
			if err != nil {
				return fmt.Errorf("create mysql probe: %w", err)
			}
			defer probe.Close()
			samplerCfg.DB = probe
		}
		sampler, err := monitor.NewProcSampler(samplerCfg)
		if err != nil {
			return fmt.Errorf("create sampler: %w", err)
		}

		retention := time.Duration(cfg.Monitor.RetentionHours) * time.Hour
		recorder := monitor.NewRecorder(sampler, store.Metrics(), retention)
		worker.Handle(monitor.RecordJobName, monitor.RecordHandler(recorder, q))
		worker.Handle(monitor.CheckJobName, monitor.CheckHandler(alerts, store.Metrics()))

		scheduler := monitor.NewScheduler(q, cfg.Monitor.Interval)
		g.Go(func() error { return scheduler.Run(gCtx) })
	}

	// HTTP
	apiCfg := &api.Config{
		Address:              cfg.Server.HTTPAddress,
		JWTSecret:            []byte(cfg.JWTSecret),
		TokenTTL:             cfg.Server.TokenTTL,
		WebhookRatePerMinute: cfg.Webhook.RatePerMinute,
		AdminRatePerMinute:   cfg.Server.AdminRatePerMinute,
		Verbose:              cfg.Verbose,
	}
	if cfg.Server.TLS.Enabled {
		apiCfg.TLSCertFile = cfg.Server.TLS.CertFile
		apiCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}
	srv, err := api.New(apiCfg, store, q, keys)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if redisBackend != nil {
		srv.RegisterHealthChecker(health.NewRedisChecker(redisBackend))
	}

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	if cfg.Server.MetricsAddress != "" {
		ms := metrics.NewServer(cfg.Server.MetricsAddress)
		g.Go(ms.Start)
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return worker.Run(gCtx) })
	g.Go(func() error { return srv.Run(gCtx) })

	log.Printf("starting hostdeck-server %s", config.Version)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}
