// Package reliability holds operational safeguards around the sqlite stores.
package reliability

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
	"krxwatch/internal/database"
)

// BackupConfig holds snapshot backup configuration. An empty Bucket disables
// backups entirely.
type BackupConfig struct {
	Bucket string
	Prefix string
}

// uploader is the subset of manager.Uploader used here, extracted for tests.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Backup uploads database snapshots to S3 after successful ingestion runs.
// It is best effort: a failed upload is logged, never propagated, because the
// local databases remain the source of truth.
type Backup struct {
	cfg      BackupConfig
	uploader uploader
	log      zerolog.Logger
}

// NewBackup builds the backup service. Returns a disabled instance when no
// bucket is configured or AWS credentials cannot be resolved.
func NewBackup(ctx context.Context, cfg BackupConfig, log zerolog.Logger) *Backup {
	b := &Backup{cfg: cfg, log: log.With().Str("component", "backup").Logger()}

	if cfg.Bucket == "" {
		b.log.Info().Msg("No bucket configured, snapshot backups disabled")
		return b
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to load AWS config, snapshot backups disabled")
		return b
	}

	b.uploader = manager.NewUploader(s3.NewFromConfig(awsCfg))
	b.log.Info().Str("bucket", cfg.Bucket).Msg("Snapshot backups enabled")
	return b
}

// Enabled reports whether snapshots will actually be uploaded.
func (b *Backup) Enabled() bool {
	return b.uploader != nil
}

// Snapshot checkpoints each database and uploads its file under
// <prefix>/<date>/<name>.db. Errors are logged per database and swallowed.
func (b *Backup) Snapshot(ctx context.Context, date time.Time, dbs ...*database.DB) {
	if !b.Enabled() {
		return
	}

	dateStr := date.Format(calendar.DateFormat)
	for _, db := range dbs {
		if err := b.snapshotOne(ctx, dateStr, db); err != nil {
			b.log.Error().Err(err).Str("database", db.Name()).Msg("Snapshot upload failed")
			continue
		}
		b.log.Info().Str("database", db.Name()).Str("date", dateStr).Msg("Snapshot uploaded")
	}
}

func (b *Backup) snapshotOne(ctx context.Context, dateStr string, db *database.DB) error {
	// Fold the WAL into the main file so the snapshot is self-contained.
	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	f, err := os.Open(db.Path())
	if err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}
	defer f.Close()

	key := path.Join(b.cfg.Prefix, dateStr, db.Name()+".db")
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &b.cfg.Bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
