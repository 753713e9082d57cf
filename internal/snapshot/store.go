package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/pkg/logger"
)

// ErrNoSnapshot means the store holds no published snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot available")

const (
	filePrefix = "snapshot_"
	fileSuffix = ".json"
	// Timestamp layout is lexicographically ordered, so the newest
	// artifact is always the greatest file name.
	tsLayout = "20060102T150405Z"
)

// Store owns the on-disk snapshot artifacts. Each snapshot is one
// self-contained JSON file, published atomically via rename.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Save publishes a new snapshot. A failed write never leaves a partial
// artifact visible: data lands in a temp file first and only an
// fsync-ed rename makes it the latest.
func (s *Store) Save(records []lineage.Record, rels []lineage.Relationship) (*lineage.Snapshot, error) {
	capturedAt := s.now().UTC()
	id := capturedAt.Format(tsLayout)

	final := filepath.Join(s.dir, filePrefix+id+fileSuffix)
	for seq := 1; ; seq++ {
		if _, err := os.Stat(final); os.IsNotExist(err) {
			break
		}
		// Two captures within one second get a numeric suffix; the
		// underscore keeps the suffixed name sorting after the bare one,
		// and zero-padding keeps _010 sorting after _009.
		id = fmt.Sprintf("%s_%03d", capturedAt.Format(tsLayout), seq)
		final = filepath.Join(s.dir, filePrefix+id+fileSuffix)
	}

	snap := &lineage.Snapshot{
		ID:            id,
		CapturedAt:    capturedAt,
		Records:       records,
		Relationships: rels,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	logger.Info("Snapshot published",
		zap.String("snapshot_id", id),
		zap.Int("records", len(records)),
		zap.Int("relationships", len(rels)),
	)

	return snap, nil
}

// Latest returns the most recently published snapshot.
func (s *Store) Latest() (*lineage.Snapshot, error) {
	names, err := s.artifactNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoSnapshot
	}

	newest := names[len(names)-1]
	data, err := os.ReadFile(filepath.Join(s.dir, newest))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", newest, err)
	}

	var snap lineage.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", newest, err)
	}

	return &snap, nil
}

// Prune deletes all but the newest keep snapshots. Per-file deletion is
// best-effort: one stubborn file does not stop the rest.
func (s *Store) Prune(keep int) {
	if keep < 1 {
		keep = 1
	}

	names, err := s.artifactNames()
	if err != nil {
		logger.Warn("Prune skipped, cannot list snapshots", zap.Error(err))
		return
	}
	if len(names) <= keep {
		return
	}

	for _, name := range names[:len(names)-keep] {
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to delete old snapshot", zap.String("file", name), zap.Error(err))
			continue
		}
		logger.Info("Old snapshot deleted", zap.String("file", name))
	}
}

// artifactNames returns published snapshot file names sorted ascending,
// which by the timestamp layout means oldest first.
func (s *Store) artifactNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
