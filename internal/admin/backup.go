package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	backupTimeout   = 2 * time.Minute
	BackupRetention = 31 * 24 * time.Hour
)

// Runner запускает внешнюю команду. В тестах подменяется.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// Backup снимает дампы Postgres через pg_dump.
type Backup struct {
	dsn string
	dir string
	run Runner
	now func() time.Time
	log *zap.Logger
}

func NewBackup(dsn, dir string, log *zap.Logger) *Backup {
	return &Backup{dsn: dsn, dir: dir, run: execRunner, now: time.Now, log: log}
}

// Create создаёт дамп БД Postgres и возвращает путь к файлу
func (b *Backup) Create(ctx context.Context, prefix string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	filename := filepath.Join(b.dir, prefix+"_"+b.now().Format("20060102_150405")+".dump")
	ctx, cancel := context.WithTimeout(ctx, backupTimeout)
	defer cancel()
	if err := b.run(ctx, "pg_dump", b.dsn, "-Fc", "-f", filename); err != nil {
		return "", err
	}
	return filename, nil
}

// Clean удаляет дампы старше retention.
func (b *Backup) Clean(retention time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, "*backup_*.dump"))
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-retention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Auto снимает ночной бэкап и чистит старые дампы.
func (b *Backup) Auto(ctx context.Context) error {
	filename, err := b.Create(ctx, "autobackup")
	if err != nil {
		b.log.Error("auto backup failed", zap.Error(err))
		return err
	}
	removed, err := b.Clean(BackupRetention)
	if err != nil {
		b.log.Warn("backup cleanup failed", zap.Error(err))
	}
	b.log.Info("auto backup created", zap.String("file", filename), zap.Int("removed", removed))
	return nil
}
