package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/db"
	"github.com/sells-group/dataland/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for the other Postgres-backed
// components sharing the database.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const (
	dataPointColumns     = `data_id, data_point_type, company_id, reporting_period, uploader_user_id, upload_time, currently_active, qa_status, content`
	selectDataPoint      = `SELECT ` + dataPointColumns + ` FROM data_points WHERE data_id = $1`
	selectActiveID       = `SELECT data_id FROM data_points WHERE company_id = $1 AND data_point_type = $2 AND reporting_period = $3 AND currently_active`
	selectDatasetMapping = `SELECT path, data_id FROM dataset_data_points WHERE dataset_id = $1`
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS data_points (
	data_id          TEXT PRIMARY KEY,
	data_point_type  TEXT NOT NULL,
	company_id       TEXT NOT NULL,
	reporting_period TEXT NOT NULL,
	uploader_user_id TEXT NOT NULL,
	upload_time      TIMESTAMPTZ NOT NULL DEFAULT now(),
	currently_active BOOLEAN NOT NULL DEFAULT false,
	qa_status        TEXT NOT NULL DEFAULT 'Pending',
	content          JSONB NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_data_points_one_active
	ON data_points(company_id, data_point_type, reporting_period) WHERE currently_active;
CREATE INDEX IF NOT EXISTS idx_data_points_dimension
	ON data_points(company_id, reporting_period, data_point_type);

CREATE TABLE IF NOT EXISTS datasets (
	dataset_id       TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	data_type        TEXT NOT NULL,
	reporting_period TEXT NOT NULL,
	uploader_user_id TEXT NOT NULL,
	upload_time      TIMESTAMPTZ NOT NULL DEFAULT now(),
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks that the database answers queries.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertDataPoint(ctx context.Context, dp *model.DataPoint) error {
	return insertDataPoint(ctx, s.pool, dp)
}

func insertDataPoint(ctx context.Context, q db.Querier, dp *model.DataPoint) error {
	_, err := q.Exec(ctx,
		`INSERT INTO data_points (`+dataPointColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		dp.DataPointID, dp.DataPointType, dp.CompanyID, dp.ReportingPeriod, dp.UploaderUserID,
		dp.UploadTime, dp.CurrentlyActive, string(dp.QaStatus), []byte(dp.Content),
	)
	return eris.Wrapf(err, "postgres: insert data point %s", dp.DataPointID)
}

func (s *PostgresStore) GetDataPoint(ctx context.Context, dataID string) (*model.DataPoint, error) {
	dp, err := scanDataPoint(s.pool.QueryRow(ctx, selectDataPoint, dataID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get data point %s", dataID)
	}
	return dp, nil
}

func (s *PostgresStore) GetDataPoints(ctx context.Context, dataIDs []string) (map[string]*model.DataPoint, error) {
	out := make(map[string]*model.DataPoint, len(dataIDs))
	if len(dataIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dataPointColumns+` FROM data_points WHERE data_id = ANY($1)`, dataIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get data points")
	}
	defer rows.Close()

	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan data point")
		}
		out[dp.DataPointID] = dp
	}
	return out, eris.Wrap(rows.Err(), "postgres: get data points iterate")
}

func (s *PostgresStore) GetDataPointMeta(ctx context.Context, dataID string) (*model.DataPointMeta, error) {
	dp, err := s.GetDataPoint(ctx, dataID)
	if err != nil || dp == nil {
		return nil, err
	}
	return &dp.DataPointMeta, nil
}

func (s *PostgresStore) SetDataPointQaStatus(ctx context.Context, dataID string, status model.QaStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_points SET qa_status = $1 WHERE data_id = $2 AND qa_status <> $1`,
		string(status), dataID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set qa status of data point %s", dataID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ActiveDataPoint(ctx context.Context, dim model.DataPointDimension) (string, error) {
	return activeID(ctx, s.pool, dim)
}

func activeID(ctx context.Context, q db.Querier, dim model.DataPointDimension) (string, error) {
	var id string
	err := q.QueryRow(ctx, selectActiveID,
		dim.CompanyID, dim.DataPointType, dim.ReportingPeriod,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get active data point %s", dim)
	}
	return id, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, filter ActiveFilter) ([]model.DataPointMeta, error) {
	query := `SELECT data_id, data_point_type, company_id, reporting_period, uploader_user_id, upload_time, currently_active, qa_status
	          FROM data_points WHERE currently_active`
	args := []any{}
	argIdx := 1
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
		query += fmt.Sprintf(` AND %s = ANY($%d)`, f.column, argIdx)
		args = append(args, f.values)
		argIdx++
	}
	query += ` ORDER BY company_id, reporting_period, data_point_type`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active data points")
	}
	defer rows.Close()

	var metas []model.DataPointMeta
	for rows.Next() {
		var m model.DataPointMeta
		var qa string
		if err := rows.Scan(&m.DataPointID, &m.DataPointType, &m.CompanyID, &m.ReportingPeriod,
			&m.UploaderUserID, &m.UploadTime, &m.CurrentlyActive, &qa); err != nil {
			return nil, eris.Wrap(err, "postgres: scan active data point")
		}
		m.QaStatus = model.QaStatus(qa)
		metas = append(metas, m)
	}
	return metas, eris.Wrap(rows.Err(), "postgres: list active data points iterate")
}

func (s *PostgresStore) UpdateCurrentlyActive(ctx context.Context, dim model.DataPointDimension, newActiveID string) (Activation, error) {
	var act Activation
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		act, err = updateActive(ctx, tx, dim, newActiveID)
		return err
	})
	if err != nil {
		return Activation{}, err
	}
	return act, nil
}

func updateActive(ctx context.Context, tx pgx.Tx, dim model.DataPointDimension, newActiveID string) (Activation, error) {
	// Serializes updates of one dimension, including the first activation
	// where no row exists to lock.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dim.String()); err != nil {
		return Activation{}, eris.Wrapf(err, "postgres: lock dimension %s", dim)
	}
	current, err := activeID(ctx, tx, dim)
	if err != nil {
		return Activation{}, err
	}
	act := DecideActivation(current, newActiveID)
	if act.Deactivate != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE data_points SET currently_active = false WHERE data_id = $1`, act.Deactivate); err != nil {
			return Activation{}, eris.Wrapf(err, "postgres: deactivate data point %s", act.Deactivate)
		}
	}
	if act.Activate != "" {
		tag, err := tx.Exec(ctx,
			`UPDATE data_points SET currently_active = true
			 WHERE data_id = $1 AND company_id = $2 AND data_point_type = $3 AND reporting_period = $4`,
			act.Activate, dim.CompanyID, dim.DataPointType, dim.ReportingPeriod)
		if err != nil {
			return Activation{}, eris.Wrapf(err, "postgres: activate data point %s", act.Activate)
		}
		if tag.RowsAffected() == 0 {
			return Activation{}, apperr.NotFound("Data point not found",
				"no data point %s exists for dimension %s", act.Activate, dim)
		}
	}
	return act, nil
}

func (s *PostgresStore) InsertDataset(ctx context.Context, meta model.DatasetMeta, dataPoints map[string]string) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return insertDataset(ctx, tx, meta, dataPoints)
	})
}

func insertDataset(ctx context.Context, tx pgx.Tx, meta model.DatasetMeta, dataPoints map[string]string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO datasets (dataset_id, company_id, data_type, reporting_period, uploader_user_id, upload_time, qa_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		meta.DatasetID, meta.CompanyID, meta.DataType, meta.ReportingPeriod,
		meta.UploaderUserID, meta.UploadTime, string(meta.QaStatus),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert dataset %s", meta.DatasetID)
	}

	paths := make([]string, 0, len(dataPoints))
	for p := range dataPoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	rows := make([][]any, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, []any{meta.DatasetID, p, dataPoints[p]})
	}
	_, err = db.CopyFrom(ctx, tx, "dataset_data_points", []string{"dataset_id", "path", "data_id"}, rows)
	return err
}

func (s *PostgresStore) WriteDataset(ctx context.Context, w DatasetWrite) ([]Activation, error) {
	var acts []Activation
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		acts = nil
		points := w.sortedPoints()
		for _, dp := range points {
			if err := insertDataPoint(ctx, tx, dp); err != nil {
				return err
			}
		}
		if err := insertDataset(ctx, tx, w.Meta, w.Mapping); err != nil {
			return err
		}
		if !w.Activate {
			return nil
		}
		for _, dp := range points {
			act, err := updateActive(ctx, tx, dp.Dimension(), dp.DataPointID)
			if err != nil {
				return err
			}
			acts = append(acts, act)
		}
		stale, err := staleElements(ctx, tx, w)
		if err != nil {
			return err
		}
		for _, dim := range stale {
			act, err := updateActive(ctx, tx, dim, "")
			if err != nil {
				return err
			}
			acts = append(acts, act)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

// staleElements lists the dimensions of active array elements the write
// replaces without rewriting them.
func staleElements(ctx context.Context, tx pgx.Tx, w DatasetWrite) ([]model.DataPointDimension, error) {
	written := w.writtenTypes()
	var out []model.DataPointDimension
	for _, prefix := range w.ReplaceArrays {
		rows, err := tx.Query(ctx,
			`SELECT data_point_type FROM data_points
			 WHERE company_id = $1 AND reporting_period = $2 AND currently_active
			   AND left(data_point_type, length($3)) = $3
			 ORDER BY data_point_type`,
			w.Meta.CompanyID, w.Meta.ReportingPeriod, prefix+"[")
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: list active elements of %s", prefix)
		}
		types, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan active elements of %s", prefix)
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

func (s *PostgresStore) GetDatasetMeta(ctx context.Context, datasetID string) (*model.DatasetMeta, error) {
	var m model.DatasetMeta
	var qa string
	err := s.pool.QueryRow(ctx,
		`SELECT dataset_id, company_id, data_type, reporting_period, uploader_user_id, upload_time, qa_status
		 FROM datasets WHERE dataset_id = $1`, datasetID,
	).Scan(&m.DatasetID, &m.CompanyID, &m.DataType, &m.ReportingPeriod, &m.UploaderUserID, &m.UploadTime, &qa)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", datasetID)
	}
	m.QaStatus = model.QaStatus(qa)
	return &m, nil
}

func (s *PostgresStore) GetDatasetDataPoints(ctx context.Context, datasetID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, selectDatasetMapping, datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset mapping %s", datasetID)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset mapping")
		}
		out[path] = id
	}
	return out, eris.Wrap(rows.Err(), "postgres: get dataset mapping iterate")
}

func (s *PostgresStore) SetDatasetQaStatus(ctx context.Context, datasetID string, status model.QaStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE datasets SET qa_status = $1 WHERE dataset_id = $2 AND qa_status <> $1`,
		string(status), datasetID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set qa status of dataset %s", datasetID)
	}
	return tag.RowsAffected() > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDataPoint(row scannable) (*model.DataPoint, error) {
	var dp model.DataPoint
	var qa string
	var content []byte
	if err := row.Scan(&dp.DataPointID, &dp.DataPointType, &dp.CompanyID, &dp.ReportingPeriod,
		&dp.UploaderUserID, &dp.UploadTime, &dp.CurrentlyActive, &qa, &content); err != nil {
		return nil, err
	}
	dp.QaStatus = model.QaStatus(qa)
	dp.Content = content
	return &dp, nil
}
