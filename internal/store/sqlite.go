package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	// activeMu serializes active pointer updates; SQLite has no advisory locks.
	activeMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection and SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS data_points (
	data_id          TEXT PRIMARY KEY,
	data_point_type  TEXT NOT NULL,
	company_id       TEXT NOT NULL,
	reporting_period TEXT NOT NULL,
	uploader_user_id TEXT NOT NULL,
	upload_time      DATETIME NOT NULL,
	currently_active INTEGER NOT NULL DEFAULT 0,
	qa_status        TEXT NOT NULL DEFAULT 'Pending',
	content          TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_data_points_one_active
	ON data_points(company_id, data_point_type, reporting_period) WHERE currently_active = 1;
CREATE INDEX IF NOT EXISTS idx_data_points_dimension
	ON data_points(company_id, reporting_period, data_point_type);

CREATE TABLE IF NOT EXISTS datasets (
	dataset_id       TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	data_type        TEXT NOT NULL,
	reporting_period TEXT NOT NULL,
	uploader_user_id TEXT NOT NULL,
	upload_time      DATETIME NOT NULL,
	qa_status        TEXT NOT NULL DEFAULT 'Pending'
);

CREATE INDEX IF NOT EXISTS idx_datasets_dimension ON datasets(company_id, data_type, reporting_period);

CREATE TABLE IF NOT EXISTS dataset_data_points (
	dataset_id TEXT NOT NULL REFERENCES datasets(dataset_id) ON DELETE CASCADE,
	path       TEXT NOT NULL,
	data_id    TEXT NOT NULL,
	PRIMARY KEY (dataset_id, path)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertDataPoint(ctx context.Context, dp *model.DataPoint) error {
	return sqliteInsertDataPoint(ctx, s.db, dp)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteInsertDataPoint(ctx context.Context, q sqlExecer, dp *model.DataPoint) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO data_points (`+dataPointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dp.DataPointID, dp.DataPointType, dp.CompanyID, dp.ReportingPeriod, dp.UploaderUserID,
		dp.UploadTime.UTC(), dp.CurrentlyActive, string(dp.QaStatus), string(dp.Content),
	)
	return eris.Wrapf(err, "sqlite: insert data point %s", dp.DataPointID)
}

func (s *SQLiteStore) GetDataPoint(ctx context.Context, dataID string) (*model.DataPoint, error) {
	dp, err := scanDataPoint(s.db.QueryRowContext(ctx,
		`SELECT `+dataPointColumns+` FROM data_points WHERE data_id = ?`, dataID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get data point %s", dataID)
	}
	return dp, nil
}

func (s *SQLiteStore) GetDataPoints(ctx context.Context, dataIDs []string) (map[string]*model.DataPoint, error) {
	out := make(map[string]*model.DataPoint, len(dataIDs))
	if len(dataIDs) == 0 {
		return out, nil
	}
	in, args := inList(dataIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dataPointColumns+` FROM data_points WHERE data_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get data points")
	}
	defer rows.Close()

	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan data point")
		}
		out[dp.DataPointID] = dp
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get data points iterate")
}

func (s *SQLiteStore) GetDataPointMeta(ctx context.Context, dataID string) (*model.DataPointMeta, error) {
	dp, err := s.GetDataPoint(ctx, dataID)
	if err != nil || dp == nil {
		return nil, err
	}
	return &dp.DataPointMeta, nil
}

func (s *SQLiteStore) SetDataPointQaStatus(ctx context.Context, dataID string, status model.QaStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_points SET qa_status = ? WHERE data_id = ? AND qa_status <> ?`,
		string(status), dataID, string(status),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set qa status of data point %s", dataID)
	}
	return changed(res)
}

func (s *SQLiteStore) ActiveDataPoint(ctx context.Context, dim model.DataPointDimension) (string, error) {
	return sqliteActiveID(ctx, s.db, dim)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteActiveID(ctx context.Context, q sqlQuerier, dim model.DataPointDimension) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT data_id FROM data_points
		 WHERE company_id = ? AND data_point_type = ? AND reporting_period = ? AND currently_active = 1`,
		dim.CompanyID, dim.DataPointType, dim.ReportingPeriod,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get active data point %s", dim)
	}
	return id, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context, filter ActiveFilter) ([]model.DataPointMeta, error) {
	query := `SELECT data_id, data_point_type, company_id, reporting_period, uploader_user_id, upload_time, currently_active, qa_status
	          FROM data_points WHERE currently_active = 1`
	var args []any
	for _, f := range []struct {
		column string
		values []string
	}{
		{"company_id", filter.CompanyIDs},
		{"reporting_period", filter.ReportingPeriods},
		{"data_point_type", filter.DataPointTypes},
	} {
		if len(f.values) == 0 {
			continue
		}
		in, a := inList(f.values)
		query += ` AND ` + f.column + ` IN (` + in + `)`
		args = append(args, a...)
	}
	query += ` ORDER BY company_id, reporting_period, data_point_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active data points")
	}
	defer rows.Close()

	var metas []model.DataPointMeta
	for rows.Next() {
		var m model.DataPointMeta
		var qa string
		if err := rows.Scan(&m.DataPointID, &m.DataPointType, &m.CompanyID, &m.ReportingPeriod,
			&m.UploaderUserID, &m.UploadTime, &m.CurrentlyActive, &qa); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan active data point")
		}
		m.QaStatus = model.QaStatus(qa)
		metas = append(metas, m)
	}
	return metas, eris.Wrap(rows.Err(), "sqlite: list active data points iterate")
}

func (s *SQLiteStore) UpdateCurrentlyActive(ctx context.Context, dim model.DataPointDimension, newActiveID string) (Activation, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Activation{}, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	act, err := sqliteUpdateActive(ctx, tx, dim, newActiveID)
	if err != nil {
		return Activation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Activation{}, eris.Wrap(err, "sqlite: commit active update")
	}
	return act, nil
}

func sqliteUpdateActive(ctx context.Context, tx *sql.Tx, dim model.DataPointDimension, newActiveID string) (Activation, error) {
	current, err := sqliteActiveID(ctx, tx, dim)
	if err != nil {
		return Activation{}, err
	}
	act := DecideActivation(current, newActiveID)
	if act.Deactivate != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE data_points SET currently_active = 0 WHERE data_id = ?`, act.Deactivate); err != nil {
			return Activation{}, eris.Wrapf(err, "sqlite: deactivate data point %s", act.Deactivate)
		}
	}
	if act.Activate != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE data_points SET currently_active = 1
			 WHERE data_id = ? AND company_id = ? AND data_point_type = ? AND reporting_period = ?`,
			act.Activate, dim.CompanyID, dim.DataPointType, dim.ReportingPeriod)
		if err != nil {
			return Activation{}, eris.Wrapf(err, "sqlite: activate data point %s", act.Activate)
		}
		if err := checkRowsAffected(res, "data point", act.Activate); err != nil {
			return Activation{}, err
		}
	}
	return act, nil
}

func (s *SQLiteStore) InsertDataset(ctx context.Context, meta model.DatasetMeta, dataPoints map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sqliteInsertDataset(ctx, tx, meta, dataPoints); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit dataset")
}

func sqliteInsertDataset(ctx context.Context, tx *sql.Tx, meta model.DatasetMeta, dataPoints map[string]string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (dataset_id, company_id, data_type, reporting_period, uploader_user_id, upload_time, qa_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.DatasetID, meta.CompanyID, meta.DataType, meta.ReportingPeriod,
		meta.UploaderUserID, meta.UploadTime.UTC(), string(meta.QaStatus),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert dataset %s", meta.DatasetID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO dataset_data_points (dataset_id, path, data_id) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare dataset mapping")
	}
	defer stmt.Close()

	paths := make([]string, 0, len(dataPoints))
	for p := range dataPoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, meta.DatasetID, p, dataPoints[p]); err != nil {
			return eris.Wrapf(err, "sqlite: insert dataset mapping %s", p)
		}
	}
	return nil
}

func (s *SQLiteStore) WriteDataset(ctx context.Context, w DatasetWrite) ([]Activation, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	points := w.sortedPoints()
	for _, dp := range points {
		if err := sqliteInsertDataPoint(ctx, tx, dp); err != nil {
			return nil, err
		}
	}
	if err := sqliteInsertDataset(ctx, tx, w.Meta, w.Mapping); err != nil {
		return nil, err
	}

	var acts []Activation
	if w.Activate {
		for _, dp := range points {
			act, err := sqliteUpdateActive(ctx, tx, dp.Dimension(), dp.DataPointID)
			if err != nil {
				return nil, err
			}
			acts = append(acts, act)
		}
		stale, err := sqliteStaleElements(ctx, tx, w)
		if err != nil {
			return nil, err
		}
		for _, dim := range stale {
			act, err := sqliteUpdateActive(ctx, tx, dim, "")
			if err != nil {
				return nil, err
			}
			acts = append(acts, act)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit dataset")
	}
	return acts, nil
}

func sqliteStaleElements(ctx context.Context, tx *sql.Tx, w DatasetWrite) ([]model.DataPointDimension, error) {
	written := w.writtenTypes()
	var out []model.DataPointDimension
	for _, prefix := range w.ReplaceArrays {
		elem := prefix + "["
		rows, err := tx.QueryContext(ctx,
			`SELECT data_point_type FROM data_points
			 WHERE company_id = ? AND reporting_period = ? AND currently_active = 1
			   AND substr(data_point_type, 1, length(?)) = ?
			 ORDER BY data_point_type`,
			w.Meta.CompanyID, w.Meta.ReportingPeriod, elem, elem)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: list active elements of %s", prefix)
		}
		var types []string
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				rows.Close()
				return nil, eris.Wrapf(err, "sqlite: scan active elements of %s", prefix)
			}
			types = append(types, t)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: list active elements of %s", prefix)
		}
		for _, t := range types {
			if w.stale(t, written) {
				out = append(out, model.DataPointDimension{
					CompanyID: w.Meta.CompanyID, DataPointType: t, ReportingPeriod: w.Meta.ReportingPeriod,
				})
			}
		}
	}
	return out, nil
}

func (s *SQLiteStore) GetDatasetMeta(ctx context.Context, datasetID string) (*model.DatasetMeta, error) {
	var m model.DatasetMeta
	var qa string
	err := s.db.QueryRowContext(ctx,
		`SELECT dataset_id, company_id, data_type, reporting_period, uploader_user_id, upload_time, qa_status
		 FROM datasets WHERE dataset_id = ?`, datasetID,
	).Scan(&m.DatasetID, &m.CompanyID, &m.DataType, &m.ReportingPeriod, &m.UploaderUserID, &m.UploadTime, &qa)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", datasetID)
	}
	m.QaStatus = model.QaStatus(qa)
	return &m, nil
}

func (s *SQLiteStore) GetDatasetDataPoints(ctx context.Context, datasetID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data_id FROM dataset_data_points WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset mapping %s", datasetID)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset mapping")
		}
		out[path] = id
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get dataset mapping iterate")
}

func (s *SQLiteStore) SetDatasetQaStatus(ctx context.Context, datasetID string, status model.QaStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET qa_status = ? WHERE dataset_id = ? AND qa_status <> ?`,
		string(status), datasetID, string(status),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set qa status of dataset %s", datasetID)
	}
	return changed(res)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("Data point not found", "%s not found: %s", entity, id)
	}
	return nil
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func inList(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}
