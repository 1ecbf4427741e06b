package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/learner-crm/internal/api"
	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/config"
	"github.com/ignite/learner-crm/internal/mailing"
	"github.com/ignite/learner-crm/internal/pkg/distlock"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/repository/postgres"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/campaign"
	"github.com/ignite/learner-crm/internal/service/sending"
	"github.com/ignite/learner-crm/internal/ses"
	"github.com/ignite/learner-crm/internal/worker"
)

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database unreachable (%s): %v", extractHost(cfg.Database.URL), err)
	}
	pingCancel()
	logger.Info("database connected", "host", extractHost(cfg.Database.URL))

	// Send locks: Redis when configured and reachable, otherwise PG advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to advisory locks", "addr", cfg.Redis.Addr, "error", err.Error())
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		pingCancel()
	}
	locks := distlock.NewFactory(redisClient, db, cfg.Automation.SendLockTTL())

	// Templates
	catalog, err := loadCatalog(ctx, cfg.Mailing)
	if err != nil {
		log.Fatalf("Failed to load template catalog: %v", err)
	}
	templates := mailing.NewTemplateService(catalog)
	if err := templates.Validate(); err != nil {
		log.Fatalf("Template catalog is invalid: %v", err)
	}
	logger.Info("template catalog loaded", "templates", len(catalog))

	// Transport
	var transport sending.Sender = mailing.LogSender{}
	if cfg.SES.Enabled {
		sesSender, err := ses.NewSender(ctx, cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
		transport = sesSender
		logger.Info("SES transport enabled", "region", cfg.SES.Region)
	} else {
		logger.Warn("SES disabled, emails will be logged only")
	}

	envelope := sending.Envelope{
		FromName:  cfg.Mailing.FromName,
		FromEmail: cfg.Mailing.FromEmail,
		ReplyTo:   cfg.Mailing.ReplyTo,
	}
	links := sending.Links{BaseURL: cfg.Mailing.BaseURL}

	users := postgres.NewUserStore(db)
	campaignRepo := postgres.NewCampaignRepo(db)
	sequenceRepo := postgres.NewSequenceRepo(db)
	sendLog := postgres.NewSendLog(db)

	campaigns := campaign.NewService(campaign.Deps{
		Repo:     campaignRepo,
		SendLog:  sendLog,
		Segments: segmentation.NewEngine(users),
		Renderer: templates,
		Sender:   transport,
		Locks:    locks,
	}, campaign.Settings{Envelope: envelope, Links: links})

	runner := automation.NewRunner(automation.RunnerDeps{
		Campaigns: campaignRepo,
		Sender:    campaigns,
		Sequences: sequenceRepo,
		Users:     users,
		Renderer:  templates,
		Transport: transport,
		SendLog:   sendLog,
	}, envelope, links)

	// Scheduled campaign dispatcher
	var scheduler *worker.CampaignScheduler
	if cfg.Automation.SchedulerEnabled {
		scheduler = worker.NewCampaignScheduler(campaigns, cfg.Automation.SchedulerPollInterval())
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start campaign scheduler: %v", err)
		}
	}

	handlers := api.NewHandlers(api.Deps{
		Campaigns:         campaigns,
		Sequences:         automation.NewSequenceService(sequenceRepo),
		Runner:            runner,
		DB:                db,
		AutomationEnabled: cfg.Automation.Enabled,
	})
	router := api.SetupRoutes(handlers, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP reloads the template catalog without a restart.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			catalog, err := loadCatalog(ctx, cfg.Mailing)
			if err == nil {
				err = templates.Load(catalog)
			}
			if err != nil {
				logger.Error("template catalog reload failed, keeping current catalog", "error", err.Error())
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", server.Addr, "automation", cfg.Automation.Enabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}
	logger.Info("server stopped")
}

// loadCatalog reads the template catalog from S3 when a bucket is
// configured, otherwise from the local file.
func loadCatalog(ctx context.Context, cfg config.MailingConfig) (mailing.Catalog, error) {
	if cfg.CatalogS3Bucket == "" {
		return mailing.LoadCatalogFile(cfg.CatalogPath)
	}
	client, err := mailing.NewS3Client(ctx, cfg.CatalogS3Region)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return mailing.LoadCatalogFromS3(ctx, client, cfg.CatalogS3Bucket, cfg.CatalogS3Key)
}
