package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path/filepath"
	"restream/dto"
	"sort"
	"strings"
	"time"
)

const DefaultBackupKeep = 10

type ConfigWriter interface {
	// Write stores doc, backing up any previous configuration first. It
	// returns the backup path, empty when there was nothing to back up.
	Write(ctx context.Context, doc *dto.ConfigDocument) (string, error)
}

// BackupArchiver copies a configuration backup off the host.
type BackupArchiver interface {
	Archive(ctx context.Context, name string, data []byte) error
}

type fileWriter struct {
	path     string
	keep     int
	archiver BackupArchiver
	now      func() time.Time
}

// NewFileWriter keeps the newest keep backups next to path.
func NewFileWriter(path string, keep int, archiver BackupArchiver) ConfigWriter {
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	return &fileWriter{
		path:     path,
		keep:     keep,
		archiver: archiver,
		now:      time.Now,
	}
}

func backupName(path string, at time.Time) string {
	return fmt.Sprintf("%s.%s.bak", path, at.UTC().Format("20060102T150405.000000000"))
}

func (w *fileWriter) Write(ctx context.Context, doc *dto.ConfigDocument) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return "", err
	}

	var backup string
	previous, err := os.ReadFile(w.path)
	switch {
	case err == nil:
		backup = backupName(w.path, w.now())
		if err := os.WriteFile(backup, previous, 0o644); err != nil {
			return "", fmt.Errorf("backup previous config: %w", err)
		}
		if w.archiver != nil {
			if err := w.archiver.Archive(ctx, filepath.Base(backup), previous); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("backup", backup).Msg("failed to archive config backup")
			}
		}
		if err := w.prune(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to prune config backups")
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return "", fmt.Errorf("read previous config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".republish-*.json")
	if err != nil {
		return backup, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return backup, err
	}
	if err := tmp.Close(); err != nil {
		return backup, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return backup, err
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return backup, err
	}

	return backup, nil
}

// prune removes all but the newest w.keep backups. Backup names sort by time.
func (w *fileWriter) prune() error {
	dir := filepath.Dir(w.path)
	prefix := filepath.Base(w.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".bak") {
			backups = append(backups, name)
		}
	}
	if len(backups) <= w.keep {
		return nil
	}
	sort.Strings(backups)

	var errs []error
	for _, name := range backups[:len(backups)-w.keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type minioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIOArchiver(client *minio.Client, bucket string) BackupArchiver {
	return &minioArchiver{
		client: client,
		bucket: bucket,
		prefix: "mediaserver-config-backups",
	}
}

func (a *minioArchiver) Archive(ctx context.Context, name string, data []byte) error {
	objectName := a.prefix + "/" + name
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}
