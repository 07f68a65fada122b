package company

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/db"
)

// PostgresDirectory implements Directory using pgx.
type PostgresDirectory struct {
	pool db.Pool
}

// NewPostgresDirectory creates a PostgresDirectory.
func NewPostgresDirectory(pool db.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

const companyMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	country_code    TEXT NOT NULL DEFAULT '',
	sector          TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_name_trgm ON companies USING gin (normalized_name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS company_identifiers (
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	system     TEXT NOT NULL,
	identifier TEXT NOT NULL,
	PRIMARY KEY (company_id, system, identifier)
);

CREATE INDEX IF NOT EXISTS idx_company_identifiers_value ON company_identifiers(identifier);
`

// Migrate creates the directory tables.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, companyMigration)
	return eris.Wrap(err, "company: migrate")
}

// ValidateIdentifier resolves a company id, LEI, ISIN, PermId or any other
// registered identifier.
func (d *PostgresDirectory) ValidateIdentifier(ctx context.Context, identifier string) (string, error) {
	identifier = cleanIdentifier(identifier)
	if identifier == "" {
		return "", errEmptyIdentifier()
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id FROM companies WHERE id = $1
		UNION
		SELECT company_id FROM company_identifiers WHERE identifier = $1
		LIMIT 2`, identifier)
	if err != nil {
		return "", eris.Wrapf(err, "company: validate identifier %s", identifier)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", eris.Wrapf(err, "company: scan identifier matches for %s", identifier)
	}
	return pickOne(identifier, ids)
}

func pickOne(identifier string, ids []string) (string, error) {
	switch len(ids) {
	case 0:
		return "", apperr.NotFound("Company identifier not found",
			"no company has the identifier %s", identifier)
	case 1:
		return ids[0], nil
	default:
		return "", apperr.Validation("Multiple companies found",
			"multiple companies found for the identifier %s", identifier)
	}
}

// GetCompany returns a company with its identifiers.
func (d *PostgresDirectory) GetCompany(ctx context.Context, id string) (*Company, error) {
	c := &Company{Identifiers: map[string][]string{}}
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, country_code, sector, website, updated_at
		FROM companies WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.CountryCode, &c.Sector, &c.Website, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCompanyNotFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "company: get %s", id)
	}

	rows, err := d.pool.Query(ctx, `
		SELECT system, identifier FROM company_identifiers
		WHERE company_id = $1 ORDER BY system, identifier`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "company: get identifiers of %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var system, identifier string
		if err := rows.Scan(&system, &identifier); err != nil {
			return nil, eris.Wrap(err, "company: scan identifier")
		}
		c.Identifiers[system] = append(c.Identifiers[system], identifier)
	}
	return c, eris.Wrap(rows.Err(), "company: identifiers iterate")
}

// Exists reports whether id names a company.
func (d *PostgresDirectory) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1)`, id).Scan(&ok)
	return ok, eris.Wrapf(err, "company: exists %s", id)
}

// Search finds companies by exact identifier or trigram similarity of the
// normalized name. Identifier hits rank first.
func (d *PostgresDirectory) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	normalized := NormalizeName(query)
	rows, err := d.pool.Query(ctx, `
		SELECT c.id, c.name, c.country_code, 1.0::float8 AS score
		FROM companies c JOIN company_identifiers ci ON ci.company_id = c.id
		WHERE ci.identifier = $1
		UNION
		SELECT id, name, country_code, similarity(normalized_name, $2)::float8 AS score
		FROM companies
		WHERE normalized_name % $2
		ORDER BY score DESC, name
		LIMIT $3`, cleanIdentifier(query), normalized, limit)
	if err != nil {
		return nil, eris.Wrap(err, "company: search")
	}
	defer rows.Close()

	var out []SearchResult
	seen := map[string]bool{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Name, &r.CountryCode, &r.Score); err != nil {
			return nil, eris.Wrap(err, "company: scan search result")
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "company: search iterate")
}

// Import upserts companies and their identifiers. Companies without an id
// get a fresh one.
func (d *PostgresDirectory) Import(ctx context.Context, companies []Company) (int64, error) {
	if err := prepareImport(companies); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	companyRows := make([][]any, 0, len(companies))
	var identifierRows [][]any
	for _, c := range companies {
		companyRows = append(companyRows, []any{c.ID, c.Name, NormalizeName(c.Name), c.CountryCode, c.Sector, c.Website, now})
		for _, system := range sortedSystems(c.Identifiers) {
			for _, v := range c.Identifiers[system] {
				identifierRows = append(identifierRows, []any{c.ID, system, v})
			}
		}
	}

	n, err := db.BulkUpsert(ctx, d.pool, db.UpsertConfig{
		Table:        "companies",
		Columns:      []string{"id", "name", "normalized_name", "country_code", "sector", "website", "updated_at"},
		ConflictKeys: []string{"id"},
	}, companyRows)
	if err != nil {
		return 0, eris.Wrap(err, "company: import companies")
	}
	ids, err := db.BulkUpsert(ctx, d.pool, db.UpsertConfig{
		Table:        "company_identifiers",
		Columns:      []string{"company_id", "system", "identifier"},
		ConflictKeys: []string{"company_id", "system", "identifier"},
	}, identifierRows)
	if err != nil {
		return 0, eris.Wrap(err, "company: import identifiers")
	}
	zap.L().Info("imported companies", zap.Int64("companies", n), zap.Int64("identifiers", ids))
	return n, nil
}

// prepareImport validates the batch and fills missing ids in place.
func prepareImport(companies []Company) error {
	seen := map[string]bool{}
	for i := range companies {
		c := &companies[i]
		if c.Name == "" {
			return apperr.Validation("Invalid company", "company %d has no name", i)
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if seen[c.ID] {
			return apperr.Validation("Invalid company", "company id %s appears twice", c.ID)
		}
		seen[c.ID] = true
		for system, values := range c.Identifiers {
			if !KnownSystem(system) {
				return apperr.Validation("Invalid company", "company %s uses the unknown identifier system %q", c.ID, system)
			}
			for j, v := range values {
				values[j] = cleanIdentifier(v)
			}
		}
	}
	return nil
}

func errEmptyIdentifier() error {
	return apperr.Validation("Invalid company identifier", "the company identifier must not be empty")
}

func errCompanyNotFound(id string) error {
	return apperr.NotFound("Company not found", "no company with id %s exists", id)
}

func sortedSystems(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
