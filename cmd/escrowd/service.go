package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v2"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cmd/flags"
	"github.com/vitalform/survey-key-escrow/escrow"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
	"github.com/vitalform/survey-key-escrow/metrics"
	"github.com/vitalform/survey-key-escrow/notify"
	"github.com/vitalform/survey-key-escrow/secretstore"
	"github.com/vitalform/survey-key-escrow/workflow"
)

var NotifyEmailFlag = &cli.StringFlag{
	Name:  "notify-email",
	Usage: "recipient for recovery workflow notifications; logged only when unset",
}
var SMTPHostFlag = &cli.StringFlag{
	Name:  "smtp-host",
	Usage: "SMTP server host for email notifications",
}
var SMTPPortFlag = &cli.IntFlag{
	Name:  "smtp-port",
	Value: 587,
	Usage: "SMTP server port",
}
var SMTPUsernameFlag = &cli.StringFlag{
	Name:  "smtp-username",
	Usage: "SMTP authentication username",
}
var SMTPPasswordFlag = &cli.StringFlag{
	Name:    "smtp-password",
	EnvVars: []string{"SMTP_PASSWORD"},
	Usage:   "SMTP authentication password",
}
var SMTPFromFlag = &cli.StringFlag{
	Name:  "smtp-from",
	Usage: "sender address for email notifications",
}

var NotifyFlags = []cli.Flag{
	NotifyEmailFlag,
	SMTPHostFlag,
	SMTPPortFlag,
	SMTPUsernameFlag,
	SMTPPasswordFlag,
	SMTPFromFlag,
}

var ArchiveBucketFlag = &cli.StringFlag{
	Name:  "archive-bucket",
	Usage: "S3 bucket for audit log archival; archival is disabled when unset",
}
var ArchivePrefixFlag = &cli.StringFlag{
	Name:  "archive-prefix",
	Value: "audit/",
	Usage: "key prefix for archived audit objects",
}
var ArchiveRegionFlag = &cli.StringFlag{
	Name:  "archive-region",
	Value: "us-east-1",
	Usage: "S3 region for the archive bucket",
}
var ArchiveEndpointFlag = &cli.StringFlag{
	Name:  "archive-endpoint",
	Usage: "custom S3 endpoint, for S3-compatible object stores",
}
var ArchiveAccessKeyFlag = &cli.StringFlag{
	Name:    "archive-access-key",
	EnvVars: []string{"AWS_ACCESS_KEY_ID"},
	Usage:   "S3 access key for the archive bucket",
}
var ArchiveSecretKeyFlag = &cli.StringFlag{
	Name:    "archive-secret-key",
	EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
	Usage:   "S3 secret key for the archive bucket",
}
var ArchiveIntervalFlag = &cli.DurationFlag{
	Name:  "archive-interval",
	Value: time.Hour,
	Usage: "interval between audit archive exports",
}

var ArchiveFlags = []cli.Flag{
	ArchiveBucketFlag,
	ArchivePrefixFlag,
	ArchiveRegionFlag,
	ArchiveEndpointFlag,
	ArchiveAccessKeyFlag,
	ArchiveSecretKeyFlag,
	ArchiveIntervalFlag,
}

// Service holds the wired components the daemon runs.
type Service struct {
	Engine    *workflow.Engine
	Sweeper   *workflow.Sweeper
	Archiver  *audit.S3Archiver
	AdminKeys map[string][]byte

	db *sql.DB
}

// Close releases the database handle. The HTTP server shuts down
// separately.
func (s *Service) Close() error {
	return s.db.Close()
}

// SetupService assembles the escrow service from flags: secret store with
// retry and instrumentation, SQLite persistence, audit log, KEK recovery
// path, workflow engine and sweeper, notification, and optional audit
// archival.
func SetupService(cCtx *cli.Context, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	adminKeysFile := cCtx.String(AdminKeysFileFlag.Name)
	adminKeysData, err := os.Open(adminKeysFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin keys file: %w", err)
	}
	defer adminKeysData.Close()

	adminKeys, err := httpserver.LoadAdminKeys(adminKeysData)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin keys: %w", err)
	}
	logger.Info("Admin keys loaded", "count", len(adminKeys))

	baseStore, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create secret store: %w", err)
	}
	store := metrics.InstrumentedSecretStore(
		secretstore.NewResilientStore(baseStore, secretstore.DefaultRetryPolicy(), logger), m)

	ctx, cancel := context.WithTimeout(context.Background(), cCtx.Duration(flags.StoreTimeoutFlag.Name))
	defer cancel()
	if err := store.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("secret store authentication failed: %w", err)
	}
	health, err := store.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret store health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		// Startup proceeds; operations will refuse until the store is
		// unsealed, and readiness reflects the API server only.
		logger.Warn("Secret store is not ready",
			"initialized", health.Initialized, "sealed", health.Sealed)
	}

	db, err := sql.Open("sqlite3", cCtx.String(DBFileFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	auditStore, err := audit.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create audit store: %w", err)
	}
	records, err := escrow.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create escrow record store: %w", err)
	}
	requests, err := workflow.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create recovery request store: %w", err)
	}

	alog := metrics.CountingAuditLog(audit.NewLogger(auditStore, logger), m)

	reconstructor := kms.NewReconstructor(store, kms.ShamirSplitter{}, logger)
	manager := escrow.NewManager(store, records, requests, reconstructor, alog, logger)

	cfg := workflow.Config{
		ApprovalDelay:         cCtx.Duration(ApprovalDelayFlag.Name),
		RequestTTL:            cCtx.Duration(RequestTTLFlag.Name),
		ReleaseEscrowOnExpiry: cCtx.Bool(ReleaseEscrowOnExpiryFlag.Name),
	}
	notifier := SetupNotifier(cCtx, logger)
	engine := workflow.NewEngine(requests, records, manager, alog, notifier, cfg, logger)
	sweeper := workflow.NewSweeper(requests, alog, notifier, cfg, cCtx.Duration(SweepIntervalFlag.Name), logger)

	archiver, err := SetupArchiver(cCtx, auditStore, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Service{
		Engine:    engine,
		Sweeper:   sweeper,
		Archiver:  archiver,
		AdminKeys: adminKeys,
		db:        db,
	}, nil
}

// SetupNotifier picks the notification channel: email when a recipient is
// configured, the log otherwise.
func SetupNotifier(cCtx *cli.Context, logger *slog.Logger) interfaces.Notifier {
	recipient := cCtx.String(NotifyEmailFlag.Name)
	if recipient == "" {
		return notify.NewLogNotifier(logger)
	}

	sender := notify.NewSMTPSender(
		cCtx.String(SMTPHostFlag.Name),
		cCtx.Int(SMTPPortFlag.Name),
		cCtx.String(SMTPUsernameFlag.Name),
		cCtx.String(SMTPPasswordFlag.Name),
		cCtx.String(SMTPFromFlag.Name),
	)
	return notify.NewEmailNotifier(recipient, sender, logger)
}

// SetupArchiver creates the S3 audit archiver, or returns nil when no
// bucket is configured.
func SetupArchiver(cCtx *cli.Context, store interfaces.AuditStore, logger *slog.Logger) (*audit.S3Archiver, error) {
	bucket := cCtx.String(ArchiveBucketFlag.Name)
	if bucket == "" {
		return nil, nil
	}

	archiver, err := audit.NewS3Archiver(audit.S3ArchiverConfig{
		Bucket:    bucket,
		Prefix:    cCtx.String(ArchivePrefixFlag.Name),
		Region:    cCtx.String(ArchiveRegionFlag.Name),
		Endpoint:  cCtx.String(ArchiveEndpointFlag.Name),
		AccessKey: cCtx.String(ArchiveAccessKeyFlag.Name),
		SecretKey: cCtx.String(ArchiveSecretKeyFlag.Name),
	}, store, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create audit archiver: %w", err)
	}
	return archiver, nil
}
