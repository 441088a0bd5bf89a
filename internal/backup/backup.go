// Package backup packages the data directory into zip archives and
// records each archive in the backups collection.
package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewlink/internal/collection"
)

// archiveDirPermissions is the permission mode for the archive directory.
const archiveDirPermissions = 0750

// Collection is the document collection backup records live in.
const Collection = "backups"

// Logger is the logging interface used by the Runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Record describes one finished backup archive.
type Record struct {
	ID       string `json:"_id"`
	Date     string `json:"date"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Runner zips the data directory into the archive directory.
type Runner struct {
	dataDir    string
	archiveDir string
	docs       *collection.Store
	logger     Logger
}

// NewRunner creates a backup runner.
// archiveDir must not live inside dataDir; archives found inside the
// data directory are skipped while zipping to avoid recursion, but
// keeping them separate is the supported layout.
func NewRunner(dataDir, archiveDir string, docs *collection.Store) *Runner {
	return &Runner{
		dataDir:    dataDir,
		archiveDir: archiveDir,
		docs:       docs,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Run creates a zip archive of the data directory, writes it to the
// archive directory and records it in the backups collection. The
// backups version counter moves only through the caller's notification
// path; Run itself just persists the record.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	if err := os.MkdirAll(r.archiveDir, archiveDirPermissions); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	id := uuid.NewString()
	filename := fmt.Sprintf("backup_%s.zip", start.UTC().Format("20060102_150405"))
	path := filepath.Join(r.archiveDir, filename)

	size, err := r.writeArchive(path)
	if err != nil {
		// A half-written archive is worse than none.
		os.Remove(path) //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("writing archive: %w", err)
	}

	record := collection.Document{
		collection.IDField: id,
		"date":             start.UTC().Format(time.RFC3339),
		"filename":         filename,
		"size":             size,
	}
	if _, err := r.docs.Insert(ctx, Collection, record); err != nil {
		return fmt.Errorf("recording backup: %w", err)
	}

	r.logger.Info("backup complete",
		"filename", filename,
		"size", size,
		"took", time.Since(start).String(),
	)
	return nil
}

// List returns all recorded backups.
func (r *Runner) List(ctx context.Context) ([]collection.Document, error) {
	return r.docs.Find(ctx, Collection)
}

// ArchivePath resolves a recorded backup id to its archive file path.
// The filename comes from the stored record, never from the caller, so
// path traversal through the id is not possible.
func (r *Runner) ArchivePath(ctx context.Context, id string) (string, error) {
	doc, err := r.docs.Get(ctx, Collection, id)
	if err != nil {
		return "", err
	}

	filename, _ := doc["filename"].(string)
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("backup %s has an invalid filename", id)
	}
	return filepath.Join(r.archiveDir, filename), nil
}

// writeArchive zips the data directory into path and returns the
// archive size in bytes.
func (r *Runner) writeArchive(path string) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating archive file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	absArchive, err := filepath.Abs(r.archiveDir)
	if err != nil {
		return 0, fmt.Errorf("resolving archive directory: %w", err)
	}

	walkErr := filepath.Walk(r.dataDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		// Never zip the archives themselves.
		if strings.HasPrefix(abs, absArchive+string(os.PathSeparator)) || abs == absArchive {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(r.dataDir, p)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close() //nolint:errcheck // Best effort cleanup on error path
		return 0, fmt.Errorf("walking data directory: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalising archive: %w", err)
	}

	stat, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("sizing archive: %w", err)
	}
	return stat.Size(), nil
}
