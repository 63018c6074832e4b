package serve

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		pipeline      TEXT NOT NULL DEFAULT '',
		project_name  TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'pending',
		error         TEXT NOT NULL DEFAULT '',
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd      REAL NOT NULL DEFAULT 0,
		started_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at   DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id    TEXT NOT NULL,
		type      TEXT NOT NULL,
		stage     TEXT NOT NULL DEFAULT '',
		message   TEXT NOT NULL DEFAULT '',
		error     TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS evolution_runs (
		id           TEXT PRIMARY KEY,
		status       TEXT NOT NULL DEFAULT 'running',
		generations  INTEGER NOT NULL DEFAULT 0,
		best_fitness REAL NOT NULL DEFAULT 0,
		best_genome  TEXT NOT NULL DEFAULT '',
		stopped      TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		started_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at  DATETIME
	);

	CREATE TABLE IF NOT EXISTS generations (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		evolution_id  TEXT NOT NULL,
		generation    INTEGER NOT NULL,
		best_fitness  REAL NOT NULL DEFAULT 0,
		mean_fitness  REAL NOT NULL DEFAULT 0,
		std_dev       REAL NOT NULL DEFAULT 0,
		mutation_rate REAL NOT NULL DEFAULT 0,
		at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schedules (
		name       TEXT PRIMARY KEY,
		cron       TEXT NOT NULL,
		enabled    INTEGER NOT NULL DEFAULT 1,
		spec       TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_generations_evolution ON generations(evolution_id, generation);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// InsertRun records a new generation run.
func (s *SQLiteStore) InsertRun(r RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, pipeline, project_name, description, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pipeline, r.ProjectName, r.Description, r.Status, r.StartedAt,
	)
	return err
}

// UpdateRun updates a run's status, metrics, and error.
func (s *SQLiteStore) UpdateRun(r RunRecord) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, input_tokens = ?, output_tokens = ?,
		        cost_usd = ?, finished_at = ?
		 WHERE id = ?`,
		r.Status, r.Error, r.InputTokens, r.OutputTokens, r.CostUSD, r.FinishedAt, r.ID,
	)
	return err
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(id string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, pipeline, project_name, description, status, error,
		        input_tokens, output_tokens, cost_usd, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, pipeline, project_name, description, status, error,
		        input_tokens, output_tokens, cost_usd, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var finished sql.NullTime
	err := row.Scan(
		&r.ID, &r.Pipeline, &r.ProjectName, &r.Description, &r.Status, &r.Error,
		&r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.StartedAt, &finished,
	)
	if err != nil {
		return r, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// InsertRunEvent records a pipeline event.
func (s *SQLiteStore) InsertRunEvent(e RunEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, stage, message, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Type, e.Stage, e.Message, e.Error, e.Timestamp,
	)
	return err
}

// ListRunEvents returns a run's events, oldest first.
func (s *SQLiteStore) ListRunEvents(runID string, limit int) ([]RunEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, type, stage, message, error, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id ASC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Stage, &e.Message, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertEvolutionRun records a new optimizer run.
func (s *SQLiteStore) InsertEvolutionRun(r EvolutionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO evolution_runs (id, status, started_at) VALUES (?, ?, ?)`,
		r.ID, r.Status, r.StartedAt,
	)
	return err
}

// UpdateEvolutionRun updates an optimizer run's progress or outcome.
func (s *SQLiteStore) UpdateEvolutionRun(r EvolutionRecord) error {
	_, err := s.db.Exec(
		`UPDATE evolution_runs SET status = ?, generations = ?, best_fitness = ?,
		        best_genome = ?, stopped = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		r.Status, r.Generations, r.BestFitness, r.BestGenome, r.Stopped, r.Error, r.FinishedAt, r.ID,
	)
	return err
}

// GetEvolutionRun returns an optimizer run by ID.
func (s *SQLiteStore) GetEvolutionRun(id string) (EvolutionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, status, generations, best_fitness, best_genome, stopped, error, started_at, finished_at
		 FROM evolution_runs WHERE id = ?`, id,
	)
	return scanEvolution(row)
}

// ListEvolutionRuns returns recent optimizer runs, newest first.
func (s *SQLiteStore) ListEvolutionRuns(limit int) ([]EvolutionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, status, generations, best_fitness, best_genome, stopped, error, started_at, finished_at
		 FROM evolution_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []EvolutionRecord
	for rows.Next() {
		r, err := scanEvolution(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanEvolution(row rowScanner) (EvolutionRecord, error) {
	var r EvolutionRecord
	var finished sql.NullTime
	err := row.Scan(
		&r.ID, &r.Status, &r.Generations, &r.BestFitness, &r.BestGenome,
		&r.Stopped, &r.Error, &r.StartedAt, &finished,
	)
	if err != nil {
		return r, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// InsertGeneration appends one generation to an optimizer run's history.
func (s *SQLiteStore) InsertGeneration(g GenerationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO generations (evolution_id, generation, best_fitness, mean_fitness, std_dev, mutation_rate, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.EvolutionID, g.Generation, g.BestFitness, g.MeanFitness, g.StdDev, g.MutationRate, g.At,
	)
	return err
}

// ListGenerations returns an optimizer run's history, oldest first.
func (s *SQLiteStore) ListGenerations(evolutionID string) ([]GenerationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, evolution_id, generation, best_fitness, mean_fitness, std_dev, mutation_rate, at
		 FROM generations WHERE evolution_id = ? ORDER BY generation ASC`, evolutionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gens []GenerationRecord
	for rows.Next() {
		var g GenerationRecord
		if err := rows.Scan(&g.ID, &g.EvolutionID, &g.Generation, &g.BestFitness,
			&g.MeanFitness, &g.StdDev, &g.MutationRate, &g.At); err != nil {
			return nil, err
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

// UpsertSchedule creates or replaces a recurring schedule.
func (s *SQLiteStore) UpsertSchedule(sched Schedule) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO schedules (name, cron, enabled, spec, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sched.Name, sched.Cron, sched.Enabled, sched.Spec, sched.CreatedAt,
	)
	return err
}

// DeleteSchedule removes a schedule by name.
func (s *SQLiteStore) DeleteSchedule(name string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %q not found", name)
	}
	return nil
}

// ListSchedules returns all schedules.
func (s *SQLiteStore) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query(
		`SELECT name, cron, enabled, spec, created_at FROM schedules ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var sch Schedule
		if err := rows.Scan(&sch.Name, &sch.Cron, &sch.Enabled, &sch.Spec, &sch.CreatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}
