package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "shelfbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const metaSavedAt = "saved_at"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, bool, error) {
	if s == nil || s.db == nil {
		return State{}, false, ErrDisabled
	}
	var saved string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSavedAt).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	st.SavedAt, _ = time.Parse(time.RFC3339Nano, saved)

	if err := queryRows(ctx, s.db, `SELECT id, name, category, distance, max_capacity FROM shelves ORDER BY pos`, func(r *sql.Rows) error {
		var v ShelfRecord
		if err := r.Scan(&v.ID, &v.Name, &v.Category, &v.Distance, &v.MaxCapacity); err != nil {
			return err
		}
		st.Shelves = append(st.Shelves, v)
		return nil
	}); err != nil {
		return State{}, false, err
	}
	if err := queryRows(ctx, s.db, `SELECT id, title, author, category, weight_kg, shelf_id, status FROM books ORDER BY id`, func(r *sql.Rows) error {
		var v BookRecord
		var shelf sql.NullString
		if err := r.Scan(&v.ID, &v.Title, &v.Author, &v.Category, &v.WeightKg, &shelf, &v.Status); err != nil {
			return err
		}
		v.ShelfID = shelf.String
		st.Books = append(st.Books, v)
		return nil
	}); err != nil {
		return State{}, false, err
	}
	if err := queryRows(ctx, s.db, `SELECT id, name, slots FROM stations ORDER BY pos`, func(r *sql.Rows) error {
		var v StationRecord
		if err := r.Scan(&v.ID, &v.Name, &v.Slots); err != nil {
			return err
		}
		st.Stations = append(st.Stations, v)
		return nil
	}); err != nil {
		return State{}, false, err
	}
	if err := queryRows(ctx, s.db, `SELECT id, battery, threshold FROM robots ORDER BY pos`, func(r *sql.Rows) error {
		var v RobotRecord
		if err := r.Scan(&v.ID, &v.Battery, &v.Threshold); err != nil {
			return err
		}
		st.Robots = append(st.Robots, v)
		return nil
	}); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// SaveState replaces all stored rows with st in one transaction.
func (s *sqliteStore) SaveState(ctx context.Context, st State) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"shelves", "books", "stations", "robots"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	for i, v := range st.Shelves {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO shelves(pos, id, name, category, distance, max_capacity) VALUES(?,?,?,?,?,?)`,
			i, v.ID, v.Name, v.Category, v.Distance, v.MaxCapacity,
		); err != nil {
			return err
		}
	}
	for _, v := range st.Books {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO books(id, title, author, category, weight_kg, shelf_id, status) VALUES(?,?,?,?,?,?,?)`,
			v.ID, v.Title, v.Author, v.Category, v.WeightKg, nullStr(v.ShelfID), v.Status,
		); err != nil {
			return err
		}
	}
	for i, v := range st.Stations {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO stations(pos, id, name, slots) VALUES(?,?,?,?)`,
			i, v.ID, v.Name, v.Slots,
		); err != nil {
			return err
		}
	}
	for i, v := range st.Robots {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO robots(pos, id, battery, threshold) VALUES(?,?,?,?)`,
			i, v.ID, v.Battery, v.Threshold,
		); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		metaSavedAt, st.SavedAt.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("state saved", logx.Int("books", len(st.Books)), logx.Int("robots", len(st.Robots)))
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, task_id, task_name, kind, robot_id, status, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.TaskID, e.TaskName, e.Kind, e.RobotID, e.Status, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []AuditEntry
	err := queryRows(ctx, s.db,
		`SELECT at, task_id, task_name, kind, robot_id, status, err, took_ms FROM
		   (SELECT * FROM audit ORDER BY id DESC LIMIT ?) ORDER BY id`,
		func(r *sql.Rows) error {
			var e AuditEntry
			var at string
			var msg sql.NullString
			if err := r.Scan(&at, &e.TaskID, &e.TaskName, &e.Kind, &e.RobotID, &e.Status, &msg, &e.TookMS); err != nil {
				return err
			}
			e.At, _ = time.Parse(time.RFC3339Nano, at)
			e.Error = msg.String
			out = append(out, e)
			return nil
		}, limit)
	return out, err
}

func queryRows(ctx context.Context, db *sql.DB, q string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
