// Package planstore persists feature sets and scan plans in SQLite so
// acquisition tooling can pick them up after a sampling run.
package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"sparsescan/pkg/models"
	"sparsescan/pkg/scanpath"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run store.
type Store struct {
	db *sql.DB
}

// Run is what gets saved for one sampling run.
type Run struct {
	ImageName string
	Modality  models.Modality
	Features  *models.FeatureSet
	Plan      scanpath.Plan
}

// RunInfo describes a stored run without its records.
type RunInfo struct {
	ID              string
	CreatedAt       time.Time
	ImageName       string
	Modality        string
	Policy          string
	Height          int
	Width           int
	SparsityPercent float64
	Records         int
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS runs(
	  id          TEXT    PRIMARY KEY,
	  created_utc INTEGER NOT NULL,
	  image_name  TEXT    NOT NULL,
	  modality    TEXT    NOT NULL CHECK (modality IN ('SEM','SIMS')),
	  policy      TEXT    NOT NULL,
	  height      INTEGER NOT NULL,
	  width       INTEGER NOT NULL,
	  sparsity    REAL    NOT NULL,
	  dwell_json  TEXT    NOT NULL CHECK (json_valid(dwell_json))
	);
	CREATE TABLE IF NOT EXISTS records(
	  run_id      TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	  seq         INTEGER NOT NULL,
	  channel     INTEGER NOT NULL,
	  px_row      INTEGER NOT NULL,
	  px_col      INTEGER NOT NULL,
	  interest    REAL    NOT NULL,
	  dwell_index INTEGER NOT NULL,
	  PRIMARY KEY (run_id, seq)
	);
	CREATE TABLE IF NOT EXISTS plan_points(
	  run_id      TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	  seq         INTEGER NOT NULL,
	  dwell_index INTEGER NOT NULL,
	  px_row      INTEGER NOT NULL,
	  px_col      INTEGER NOT NULL,
	  PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_utc);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create database tables")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run in one transaction and returns its id. The plan
// must cover the whole feature set; truncated or missing plans are rejected.
func (s *Store) SaveRun(ctx context.Context, run Run) (string, error) {
	if run.Features == nil {
		return "", errors.Wrap(models.ErrValidation, "run has no feature set")
	}
	if !run.Plan.Policy.Valid() {
		return "", errors.Wrapf(models.ErrValidation, "invalid scan type %d", int(run.Plan.Policy))
	}
	// the plan must visit every record exactly as ordered by Generate
	if run.Plan.Len() != run.Features.Len() {
		return "", errors.Wrapf(models.ErrValidation, "plan visits %d points, feature set has %d records",
			run.Plan.Len(), run.Features.Len())
	}
	dwellJSON, err := json.Marshal(run.Features.DwellTimes())
	if err != nil {
		return "", errors.Wrap(err, "failed to encode dwell times")
	}

	id := uuid.NewString()
	height, width := run.Features.Dims()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, created_utc, image_name, modality, policy, height, width, sparsity, dwell_json)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().UnixMilli(), run.ImageName, run.Modality.String(), run.Plan.Policy.String(),
		height, width, run.Features.SparsityPercent(), string(dwellJSON))
	if err != nil {
		return "", errors.Wrap(err, "failed to insert run")
	}

	recStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records(run_id, seq, channel, px_row, px_col, interest, dwell_index) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "failed to prepare record insert")
	}
	defer recStmt.Close()
	for i, r := range run.Features.Records() {
		if _, err := recStmt.ExecContext(ctx, id, i, r.Channel, r.Row, r.Col, r.Interest, r.DwellIndex); err != nil {
			return "", errors.Wrapf(err, "failed to insert record %d", i)
		}
	}

	ptStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO plan_points(run_id, seq, dwell_index, px_row, px_col) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "failed to prepare plan insert")
	}
	defer ptStmt.Close()
	seq := 0
	insert := func(dwellIndex int, c models.Coord) error {
		_, err := ptStmt.ExecContext(ctx, id, seq, dwellIndex, c.Row, c.Col)
		seq++
		return err
	}
	if run.Plan.Policy == scanpath.GroupedRaster {
		for _, g := range run.Plan.Groups {
			for _, c := range g.Path {
				if err := insert(g.DwellIndex, c); err != nil {
					return "", errors.Wrap(err, "failed to insert plan point")
				}
			}
		}
	} else {
		for _, c := range run.Plan.Path {
			if err := insert(-1, c); err != nil {
				return "", errors.Wrap(err, "failed to insert plan point")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit run")
	}
	return id, nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT r.id, r.created_utc, r.image_name, r.modality, r.policy, r.height, r.width, r.sparsity,
	       (SELECT COUNT(*) FROM records WHERE run_id = r.id)
	FROM runs r ORDER BY r.created_utc DESC, r.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info    RunInfo
			created int64
		)
		if err := rows.Scan(&info.ID, &created, &info.ImageName, &info.Modality, &info.Policy,
			&info.Height, &info.Width, &info.SparsityPercent, &info.Records); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate runs")
}

// LoadFeatureSet rebuilds the feature set of a stored run.
func (s *Store) LoadFeatureSet(ctx context.Context, id string) (*models.FeatureSet, error) {
	var (
		height, width int
		sparsity      float64
		dwellJSON     string
	)
	err := s.db.QueryRowContext(ctx, `SELECT height, width, sparsity, dwell_json FROM runs WHERE id = ?`, id).
		Scan(&height, &width, &sparsity, &dwellJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query run")
	}

	var dwellTimes []float64
	if err := json.Unmarshal([]byte(dwellJSON), &dwellTimes); err != nil {
		return nil, errors.Wrap(err, "failed to decode dwell times")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, px_row, px_col, interest, dwell_index FROM records WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.Channel, &r.Row, &r.Col, &r.Interest, &r.DwellIndex); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		if r.DwellIndex < 0 || r.DwellIndex >= len(dwellTimes) {
			return nil, errors.Wrapf(models.ErrValidation, "stored dwell index %d out of range", r.DwellIndex)
		}
		r.DwellTime = dwellTimes[r.DwellIndex]
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate records")
	}
	return models.NewFeatureSet(records, height, width, sparsity, dwellTimes)
}

// LoadPlan rebuilds the scan plan of a stored run.
func (s *Store) LoadPlan(ctx context.Context, id string) (scanpath.Plan, error) {
	var (
		policyName string
		dwellJSON  string
	)
	err := s.db.QueryRowContext(ctx, `SELECT policy, dwell_json FROM runs WHERE id = ?`, id).Scan(&policyName, &dwellJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return scanpath.Plan{}, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return scanpath.Plan{}, errors.Wrap(err, "failed to query run")
	}
	policy, err := scanpath.ParsePolicy(policyName)
	if err != nil {
		return scanpath.Plan{}, err
	}
	var dwellTimes []float64
	if err := json.Unmarshal([]byte(dwellJSON), &dwellTimes); err != nil {
		return scanpath.Plan{}, errors.Wrap(err, "failed to decode dwell times")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT dwell_index, px_row, px_col FROM plan_points WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return scanpath.Plan{}, errors.Wrap(err, "failed to query plan")
	}
	defer rows.Close()

	plan := scanpath.Plan{Policy: policy}
	for rows.Next() {
		var (
			idx int
			c   models.Coord
		)
		if err := rows.Scan(&idx, &c.Row, &c.Col); err != nil {
			return scanpath.Plan{}, errors.Wrap(err, "failed to scan plan point")
		}
		if policy != scanpath.GroupedRaster {
			plan.Path = append(plan.Path, c)
			continue
		}
		if idx < 0 || idx >= len(dwellTimes) {
			return scanpath.Plan{}, errors.Wrapf(models.ErrValidation, "stored dwell index %d out of range", idx)
		}
		n := len(plan.Groups)
		if n == 0 || plan.Groups[n-1].DwellIndex != idx {
			plan.Groups = append(plan.Groups, scanpath.Group{DwellIndex: idx, DwellTime: dwellTimes[idx]})
			n++
		}
		plan.Groups[n-1].Path = append(plan.Groups[n-1].Path, c)
	}
	return plan, errors.Wrap(rows.Err(), "failed to iterate plan")
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to delete run")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}
