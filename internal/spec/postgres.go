package spec

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/db"
)

// PostgresSource reads specifications from the spec tables.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource creates a PostgresSource.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS framework_specifications (
	id                          TEXT PRIMARY KEY,
	name                        TEXT NOT NULL DEFAULT '',
	schema                      JSONB NOT NULL,
	referenced_report_json_path TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS data_point_types (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	base_type_id TEXT NOT NULL,
	sum_of       TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS data_point_base_types (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the spec tables.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "spec: migrate")
}

func (s *PostgresSource) Framework(ctx context.Context, id string) (*Framework, error) {
	var f Framework
	var schema []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, schema, referenced_report_json_path FROM framework_specifications WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &schema, &f.ReferencedReportJSONPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get framework %s", id)
	}
	f.Schema = schema
	return &f, nil
}

func (s *PostgresSource) DataPointType(ctx context.Context, id string) (*DataPointType, error) {
	var t DataPointType
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, base_type_id, sum_of FROM data_point_types WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.BaseTypeID, &t.SumOf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get data point type %s", id)
	}
	return &t, nil
}

func (s *PostgresSource) BaseType(ctx context.Context, id string) (*BaseType, error) {
	var b BaseType
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description FROM data_point_base_types WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get base type %s", id)
	}
	return &b, nil
}

// Import upserts a bundle in one batch. Existing ids are overwritten.
func (s *PostgresSource) Import(ctx context.Context, b *Bundle) (int, error) {
	batch := &pgx.Batch{}
	for _, f := range b.Frameworks {
		batch.Queue(`INSERT INTO framework_specifications (id, name, schema, referenced_report_json_path)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, schema = EXCLUDED.schema,
				referenced_report_json_path = EXCLUDED.referenced_report_json_path`,
			f.ID, f.Name, []byte(f.Schema), f.ReferencedReportJSONPath)
	}
	for _, t := range b.DataPointTypes {
		sumOf := t.SumOf
		if sumOf == nil {
			sumOf = []string{}
		}
		batch.Queue(`INSERT INTO data_point_types (id, name, base_type_id, sum_of)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_type_id = EXCLUDED.base_type_id,
				sum_of = EXCLUDED.sum_of`,
			t.ID, t.Name, t.BaseTypeID, sumOf)
	}
	for _, bt := range b.BaseTypes {
		batch.Queue(`INSERT INTO data_point_base_types (id, name, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description`,
			bt.ID, bt.Name, bt.Description)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return i, eris.Wrapf(err, "spec: import statement %d", i)
		}
	}
	return batch.Len(), nil
}
