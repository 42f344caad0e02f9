package reliability

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krxwatch/internal/database"
)

type fakeUploader struct {
	keys []string
	fail bool
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	if _, err := io.ReadAll(input.Body); err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *input.Key)
	return &manager.UploadOutput{}, nil
}

func openDB(t *testing.T, dir, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(dir, name+".db"), Name: name})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBackup_DisabledWithoutBucket(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	b := NewBackup(context.Background(), BackupConfig{}, log)
	assert.False(t, b.Enabled())

	// A disabled backup ignores snapshots without error.
	b.Snapshot(context.Background(), time.Now())
}

func TestBackup_SnapshotKeys(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	up := &fakeUploader{}
	b := &Backup{
		cfg:      BackupConfig{Bucket: "krxwatch-backups", Prefix: "snapshots"},
		uploader: up,
		log:      log,
	}

	day, err := time.Parse("2006-01-02", "2026-08-28")
	require.NoError(t, err)

	b.Snapshot(context.Background(), day, openDB(t, dir, "jobs"), openDB(t, dir, "history"))

	assert.Equal(t, []string{
		"snapshots/2026-08-28/jobs.db",
		"snapshots/2026-08-28/history.db",
	}, up.keys)
}

func TestBackup_UploadFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	b := &Backup{
		cfg:      BackupConfig{Bucket: "krxwatch-backups"},
		uploader: &fakeUploader{fail: true},
		log:      log,
	}

	// Failures are logged, not returned; the caller never sees them.
	b.Snapshot(context.Background(), time.Now(), openDB(t, dir, "jobs"))
}
