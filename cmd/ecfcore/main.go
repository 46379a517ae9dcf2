package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"

	auditpg "3tcapital/ecfcore/internal/adapters/audit/postgres"
	certpg "3tcapital/ecfcore/internal/adapters/certificate/postgres"
	certs3 "3tcapital/ecfcore/internal/adapters/certificate/s3"
	"3tcapital/ecfcore/internal/adapters/ecfxml"
	audithttp "3tcapital/ecfcore/internal/adapters/http/audit"
	healthhttp "3tcapital/ecfcore/internal/adapters/http/health"
	issuancehttp "3tcapital/ecfcore/internal/adapters/http/issuance"
	sequencehttp "3tcapital/ecfcore/internal/adapters/http/sequence"
	inventorypg "3tcapital/ecfcore/internal/adapters/inventory/postgres"
	invoicepg "3tcapital/ecfcore/internal/adapters/invoice/postgres"
	sequencepg "3tcapital/ecfcore/internal/adapters/sequence/postgres"
	"3tcapital/ecfcore/internal/adapters/signing/xmldsig"
	"3tcapital/ecfcore/internal/adapters/transmission/dgii"
	"3tcapital/ecfcore/internal/application/health"
	"3tcapital/ecfcore/internal/application/issuance"
	"3tcapital/ecfcore/internal/application/sequence"
	"3tcapital/ecfcore/internal/core/invoice"
	coresequence "3tcapital/ecfcore/internal/core/sequence"
	"3tcapital/ecfcore/internal/infrastructure/config"
	"3tcapital/ecfcore/internal/infrastructure/database"
	httpx "3tcapital/ecfcore/internal/infrastructure/http"
	"3tcapital/ecfcore/internal/infrastructure/http/server"
	"3tcapital/ecfcore/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.Database.URL,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("Database connection established", "database", cfg.Database.Database)

	if cfg.Database.MigrateOnStart {
		if err := database.RunMigrations(ctx, pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	loc := cfg.Composer.Location()
	allocator := sequence.NewAllocator(sequencepg.NewRepository(pool, log), coresequence.CounterScope(cfg.Sequence.CounterScope), log)

	certificates, err := certificateStore(ctx, cfg, pool, log)
	if err != nil {
		return err
	}
	identities := xmldsig.NewIdentityCache(certificates, cfg.Signing.IdentityCacheTTL, log)

	signingPool := issuance.NewSigningPool(xmldsig.Engine{}, cfg.Signing.Workers)
	defer signingPool.Stop()

	auditRepo := auditpg.NewRepository(pool, log)

	healthService := health.NewService(health.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}).WithProbe("database", pool, true)

	var transmitter invoice.Transmitter
	if cfg.DGII.Enabled {
		traced := httpx.NewTracedClient(&httpx.TracedClientConfig{
			Timeout:         cfg.DGII.APITimeout,
			AuditEnabled:    cfg.Audit.Enabled,
			LogRequestBody:  cfg.Audit.LogRequestBody,
			LogResponseBody: cfg.Audit.LogResponseBody,
			MaxBodySize:     cfg.Audit.MaxBodySize,
			MaxConnsPerHost: cfg.DGII.MaxConcurrent,
		}, log, auditRepo, "dgii")
		defer traced.Close()

		tokens := dgii.NewTokenManager(cfg.DGII.BaseURL, traced, identities, xmldsig.Engine{}, cfg.DGII.TokenSkew, log)
		client := dgii.NewClient(dgii.Config{
			BaseURL:            cfg.DGII.BaseURL,
			MaxConcurrent:      cfg.DGII.MaxConcurrent,
			BreakerMaxFailures: cfg.DGII.BreakerMaxFailures,
			BreakerFailureRate: cfg.DGII.BreakerFailureRate,
			BreakerCooldown:    cfg.DGII.BreakerCooldown,
		}, traced, tokens, log)
		transmitter = client

		healthService.WithProbe("dgii", health.ProbeFunc(func(context.Context) error {
			if state := client.Breaker().State(); state == dgii.BreakerOpen {
				return fmt.Errorf("circuit breaker %s", state)
			}
			return nil
		}), false)
		log.Info("DGII transmission enabled", "base_url", cfg.DGII.BaseURL, "max_concurrent", cfg.DGII.MaxConcurrent)
	} else {
		log.Warn("DGII transmission disabled, transmit requests will fail until DGII_ENABLED=true")
	}

	issuer := issuance.NewService(issuance.Dependencies{
		Invoices:     invoicepg.NewRepository(pool, log),
		Tx:           database.NewTxManager(pool, log),
		Allocator:    allocator,
		Inventory:    inventorypg.NewRepository(pool, log),
		Composer:     ecfxml.NewComposer(cfg.Composer.VerificationURL, loc),
		Identities:   identities,
		Signing:      signingPool,
		Transmitter:  transmitter,
		SignSelector: cfg.Signing.Selector,
		Location:     loc,
	}, log).WithClock(func() time.Time { return time.Now().In(loc) })

	issuanceHandler := issuancehttp.NewHandler(issuer, identities, log)
	sequenceHandler := sequencehttp.NewHandler(allocator, log)

	srv, err := server.New(server.Options{
		Config:                    cfg,
		Logger:                    log,
		HealthHandler:             http.HandlerFunc(healthhttp.NewHandler(healthService, log).Status),
		IssueHandler:              http.HandlerFunc(issuanceHandler.Issue),
		TransmitHandler:           http.HandlerFunc(issuanceHandler.Transmit),
		InvalidateIdentityHandler: http.HandlerFunc(issuanceHandler.InvalidateIdentity),
		ProvisionSequenceHandler:  http.HandlerFunc(sequenceHandler.Provision),
		GetSequenceHandler:        http.HandlerFunc(sequenceHandler.Get),
		ExchangeTrailHandler:      http.HandlerFunc(audithttp.NewHandler(auditRepo, log).Trail),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	log.Info("Starting HTTP server",
		"port", cfg.HTTP.Port,
		"counter_scope", cfg.Sequence.CounterScope,
		"signing_workers", cfg.Signing.Workers,
		"time_zone", loc.String(),
	)
	return srv.Run(ctx)
}

// certificateStore reads containers from PostgreSQL, following S3 references
// when a bucket is configured.
func certificateStore(ctx context.Context, cfg config.AppConfig, pool *pgxpool.Pool, log *slog.Logger) (*certpg.Store, error) {
	if !cfg.Certificates.S3Enabled() {
		return certpg.NewStore(pool, nil, log), nil
	}

	client, err := certs3.NewClient(ctx, certs3.Config{
		Bucket:       cfg.Certificates.S3Bucket,
		Prefix:       cfg.Certificates.S3Prefix,
		Region:       cfg.Certificates.S3Region,
		Endpoint:     cfg.Certificates.S3Endpoint,
		AccessKey:    cfg.Certificates.S3AccessKey,
		SecretKey:    cfg.Certificates.S3SecretKey,
		UsePathStyle: cfg.Certificates.S3UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("create certificate bucket client: %w", err)
	}
	log.Info("Certificate containers may be read from S3", "bucket", cfg.Certificates.S3Bucket)
	return certpg.NewStore(pool, certs3.NewStore(client, cfg.Certificates.S3Bucket, cfg.Certificates.S3Prefix, log), log), nil
}
