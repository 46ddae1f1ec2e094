package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// archiveKeyTimeLayout names archive objects by their window bounds.
const archiveKeyTimeLayout = "20060102T150405Z"

// S3ArchiverConfig holds the settings for archiving audit entries to S3.
type S3ArchiverConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Archiver exports audit entries to an S3 bucket as JSON Lines objects,
// one object per archive window. Archiving is retention tooling: the
// primary store stays authoritative and entries are never removed from it.
type S3Archiver struct {
	client *s3.S3
	store  interfaces.AuditStore
	bucket string
	prefix string
	log    *slog.Logger

	lastUpper time.Time
}

// NewS3Archiver creates an archiver reading from store and writing to the
// configured bucket.
func NewS3Archiver(cfg S3ArchiverConfig, store interfaces.AuditStore, log *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	awsCfg := aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Archiver{
		client: s3.New(sess),
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// Archive exports the entries with timestamps in [since, until] as one
// JSON Lines object and returns its key. Returns an empty key when the
// window holds no entries.
func (a *S3Archiver) Archive(ctx context.Context, since, until time.Time) (string, error) {
	start := time.Now()

	entries, err := a.store.List(ctx, interfaces.AuditFilter{Since: since, Until: until})
	if err != nil {
		return "", fmt.Errorf("failed to list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return "", fmt.Errorf("failed to encode audit entry: %w", err)
		}
	}

	key := a.objectKey(since, until)

	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit archive to S3: %w", err)
	}

	a.log.Info("Archived audit entries to S3",
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int("entries", len(entries)),
		slog.Duration("duration", time.Since(start)))

	return key, nil
}

// Run archives on a fixed interval until the context is cancelled. Each
// tick exports the window since the previous one; failures are logged and
// the window retried on the next tick.
func (a *S3Archiver) Run(ctx context.Context, interval time.Duration) {
	a.lastUpper = time.Now().UTC()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.log.Info("Audit archiver started",
		slog.String("bucket", a.bucket),
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Audit archiver stopped")
			return
		case <-ticker.C:
			upper := time.Now().UTC()
			if _, err := a.Archive(ctx, a.lastUpper, upper); err != nil {
				a.log.Error("Audit archive run failed", "err", err)
				continue
			}
			a.lastUpper = upper
		}
	}
}

// objectKey names the archive object by its window bounds.
func (a *S3Archiver) objectKey(since, until time.Time) string {
	name := fmt.Sprintf("audit-%s-%s.jsonl",
		since.UTC().Format(archiveKeyTimeLayout),
		until.UTC().Format(archiveKeyTimeLayout))

	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}
