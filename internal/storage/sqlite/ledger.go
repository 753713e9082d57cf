package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/pkg/logger"
)

// Ledger records one row per pipeline run so operators can answer
// "when did the graph last refresh and from which snapshot".
type Ledger struct {
	db *sql.DB
}

type RunRecord struct {
	RunID           string
	SnapshotID      string
	Mode            string
	RecordsFetched  int
	RecordsSkipped  int
	Relationships   int
	DanglingDropped int
	NodesLoaded     int
	EdgesLoaded     int
	Status          string
	ErrorText       string
	StartedAt       time.Time
	FinishedAt      time.Time
}

func NewLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("Run ledger initialized", zap.String("path", dbPath))

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id TEXT PRIMARY KEY,
		snapshot_id TEXT,
		mode TEXT NOT NULL,
		records_fetched INTEGER NOT NULL,
		records_skipped INTEGER NOT NULL,
		relationships INTEGER NOT NULL,
		dangling_dropped INTEGER NOT NULL,
		nodes_loaded INTEGER NOT NULL,
		edges_loaded INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_text TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

func (l *Ledger) RecordRun(run *RunRecord) error {
	query := `
	INSERT INTO pipeline_runs (
		run_id, snapshot_id, mode,
		records_fetched, records_skipped, relationships, dangling_dropped,
		nodes_loaded, edges_loaded,
		status, error_text, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.Exec(query,
		run.RunID, run.SnapshotID, run.Mode,
		run.RecordsFetched, run.RecordsSkipped, run.Relationships, run.DanglingDropped,
		run.NodesLoaded, run.EdgesLoaded,
		run.Status, run.ErrorText, run.StartedAt.Unix(), run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

func (l *Ledger) History(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT run_id, snapshot_id, mode,
	       records_fetched, records_skipped, relationships, dangling_dropped,
	       nodes_loaded, edges_loaded,
	       status, COALESCE(error_text, ''), started_at, finished_at
	FROM pipeline_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := l.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var started, finished int64
		err := rows.Scan(
			&run.RunID, &run.SnapshotID, &run.Mode,
			&run.RecordsFetched, &run.RecordsSkipped, &run.Relationships, &run.DanglingDropped,
			&run.NodesLoaded, &run.EdgesLoaded,
			&run.Status, &run.ErrorText, &started, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.StartedAt = time.Unix(started, 0)
		run.FinishedAt = time.Unix(finished, 0)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run history: %w", err)
	}

	return runs, nil
}
