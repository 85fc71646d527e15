// Package export writes retention archives as CSV artifacts and serves the
// directory listing consumed by the reporting API.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"eduaudit/internal/audit"
)

// header is the column layout of every archive artifact.
var header = []string{
	"id", "created_at", "actor_id", "action", "category",
	"resource_type", "resource_id", "success", "ip_address", "user_agent", "details",
}

// ArchiveInfo describes one artifact in the archive directory.
type ArchiveInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer owns the archive directory. One artifact is written per cleanup run,
// named by the date range it covers.
type Writer struct {
	dir string
}

// NewWriter creates the archive directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// WriteArchive serializes the records to a new CSV artifact and returns its
// file name. Records are written in the order given.
func (w *Writer) WriteArchive(records []audit.Record, from, to time.Time) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no records to archive")
	}

	// Short suffix keeps same-day runs from colliding.
	name := fmt.Sprintf("audit-%s-%s-%s.csv",
		from.UTC().Format("20060102"),
		to.UTC().Format("20060102"),
		uuid.NewString()[:8],
	)

	// Write under a temp name so a failed run never leaves a half-written
	// artifact for List/Open to serve.
	tmpPath := filepath.Join(w.dir, name+".tmp")
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create archive artifact: %w", err)
	}
	discard := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		discard()
		return "", fmt.Errorf("write archive header: %w", err)
	}

	for _, rec := range records {
		details := ""
		if len(rec.Details) > 0 {
			raw, err := json.Marshal(rec.Details)
			if err == nil {
				details = string(raw)
			}
		}
		row := []string{
			rec.ID.String(),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(rec.ActorID, 10),
			string(rec.Action),
			string(rec.Category()),
			rec.ResourceType,
			rec.ResourceID,
			strconv.FormatBool(rec.Success),
			rec.IPAddress,
			rec.UserAgent,
			details,
		}
		if err := cw.Write(row); err != nil {
			discard()
			return "", fmt.Errorf("write archive row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		discard()
		return "", fmt.Errorf("flush archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close archive artifact: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publish archive artifact: %w", err)
	}
	return name, nil
}

// List returns the artifacts currently in the archive directory, newest first.
func (w *Writer) List() ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var archives []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// Open returns a reader over a named artifact for download.
func (w *Writer) Open(name string) (io.ReadCloser, error) {
	path, err := w.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive artifact: %w", err)
	}
	return f, nil
}

// Remove deletes a named artifact.
func (w *Writer) Remove(name string) error {
	path, err := w.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove archive artifact: %w", err)
	}
	return nil
}

// resolve validates the artifact name and confines it to the archive
// directory.
func (w *Writer) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".csv") {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return filepath.Join(w.dir, name), nil
}
