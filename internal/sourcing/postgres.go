package sourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/db"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
)

// PostgresRepository implements Repository on the shared pool. Events go
// through the outbox in the same transaction as the state they describe.
type PostgresRepository struct {
	pool db.Pool
	q    db.Querier
	pub  events.Publisher
}

// NewPostgresRepository creates a repository. When pub is an
// events.TxPublisher, events are written with the surrounding transaction.
func NewPostgresRepository(pool db.Pool, pub events.Publisher) *PostgresRepository {
	return &PostgresRepository{pool: pool, q: pool, pub: pub}
}

const oneOpenRequestIndex = "idx_requests_one_open"

const sourcingMigration = `
CREATE TABLE IF NOT EXISTS data_sourcings (
	id                         TEXT PRIMARY KEY,
	company_id                 TEXT NOT NULL,
	data_type                  TEXT NOT NULL,
	reporting_period           TEXT NOT NULL,
	state                      TEXT NOT NULL DEFAULT 'Initialized',
	document_ids               TEXT[] NOT NULL DEFAULT '{}',
	expected_publication_dates TEXT[] NOT NULL DEFAULT '{}',
	next_document_attempt      TEXT NOT NULL DEFAULT '',
	document_collector         TEXT NOT NULL DEFAULT '',
	data_extractor             TEXT NOT NULL DEFAULT '',
	admin_comment              TEXT NOT NULL DEFAULT '',
	priority                   INTEGER NOT NULL DEFAULT 10,
	last_modified_date         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_data_sourcings_dimension
	ON data_sourcings(company_id, data_type, reporting_period);

CREATE TABLE IF NOT EXISTS data_sourcing_revisions (
	revision         BIGSERIAL PRIMARY KEY,
	data_sourcing_id TEXT NOT NULL REFERENCES data_sourcings(id) ON DELETE CASCADE,
	state            TEXT NOT NULL,
	admin_comment    TEXT NOT NULL DEFAULT '',
	modified_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_data_sourcing_revisions_id ON data_sourcing_revisions(data_sourcing_id, modified_at);

CREATE TABLE IF NOT EXISTS requests (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	billed_company_id  TEXT NOT NULL DEFAULT '',
	company_id         TEXT NOT NULL,
	data_type          TEXT NOT NULL,
	reporting_period   TEXT NOT NULL,
	state              TEXT NOT NULL DEFAULT 'Open',
	priority           TEXT NOT NULL DEFAULT 'Low',
	creation_time      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_modified_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	member_comment     TEXT NOT NULL DEFAULT '',
	admin_comment      TEXT NOT NULL DEFAULT '',
	data_sourcing_id   TEXT REFERENCES data_sourcings(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_one_open
	ON requests(user_id, company_id, data_type, reporting_period) WHERE state IN ('Open', 'Processing');
CREATE INDEX IF NOT EXISTS idx_requests_user_created ON requests(user_id, creation_time);
CREATE INDEX IF NOT EXISTS idx_requests_sourcing ON requests(data_sourcing_id);

CREATE TABLE IF NOT EXISTS request_revisions (
	revision         BIGSERIAL PRIMARY KEY,
	request_id       TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	state            TEXT NOT NULL,
	priority         TEXT NOT NULL,
	admin_comment    TEXT NOT NULL DEFAULT '',
	data_sourcing_id TEXT NOT NULL DEFAULT '',
	modified_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_revisions_id ON request_revisions(request_id, modified_at);
`

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.q.Exec(ctx, sourcingMigration)
	return eris.Wrap(err, "sourcing: migrate")
}

// InTx runs fn with a repository bound to one transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PostgresRepository{pool: r.pool, q: tx, pub: r.pub})
	})
}

func (r *PostgresRepository) Publish(ctx context.Context, evs ...events.Event) error {
	if txp, ok := r.pub.(events.TxPublisher); ok {
		return txp.PublishTx(ctx, r.q, evs...)
	}
	return r.pub.Publish(ctx, evs...)
}

const requestColumns = `r.id, r.user_id, r.billed_company_id, r.company_id, r.data_type, r.reporting_period, r.state, r.priority,
	r.creation_time, r.last_modified_date, r.member_comment, r.admin_comment, COALESCE(r.data_sourcing_id, '')`

func scanRequest(row pgx.Row, extra ...any) (*model.Request, error) {
	var req model.Request
	var state, priority string
	dest := []any{
		&req.ID, &req.UserID, &req.BilledCompanyID, &req.CompanyID, &req.DataType, &req.ReportingPeriod,
		&state, &priority, &req.CreationTime, &req.LastModifiedDate, &req.MemberComment, &req.AdminComment,
		&req.DataSourcingID,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	req.State = model.RequestState(state)
	req.Priority = model.RequestPriority(priority)
	return &req, nil
}

func (r *PostgresRepository) GetRequest(ctx context.Context, id string, forUpdate bool) (*model.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests r WHERE r.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	req, err := scanRequest(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sourcing: get request %s", id)
	}
	return req, nil
}

func (r *PostgresRepository) FindActiveRequest(ctx context.Context, userID string, dim model.BasicDataDimension) (*model.Request, error) {
	req, err := scanRequest(r.q.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests r
		 WHERE r.user_id = $1 AND r.company_id = $2 AND r.data_type = $3 AND r.reporting_period = $4
		   AND r.state IN ('Open', 'Processing')`,
		userID, dim.CompanyID, dim.DataType, dim.ReportingPeriod,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sourcing: find open request %s", dim)
	}
	return req, nil
}

// dimensionArrays splits dims into parallel arrays for unnest.
func dimensionArrays(dims []model.BasicDataDimension) (companies, types, periods []string) {
	companies = make([]string, len(dims))
	types = make([]string, len(dims))
	periods = make([]string, len(dims))
	for i, d := range dims {
		companies[i], types[i], periods[i] = d.CompanyID, d.DataType, d.ReportingPeriod
	}
	return companies, types, periods
}

func (r *PostgresRepository) ExistingRequestDimensions(ctx context.Context, userID string, dims []model.BasicDataDimension) ([]model.BasicDataDimension, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	companies, types, periods := dimensionArrays(dims)
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT company_id, data_type, reporting_period FROM requests
		 WHERE user_id = $1 AND state IN ('Open', 'Processing')
		   AND (company_id, data_type, reporting_period) IN (
		     SELECT * FROM unnest($2::text[], $3::text[], $4::text[]))`,
		userID, companies, types, periods,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sourcing: existing requests")
	}
	defer rows.Close()

	var out []model.BasicDataDimension
	for rows.Next() {
		var d model.BasicDataDimension
		if err := rows.Scan(&d.CompanyID, &d.DataType, &d.ReportingPeriod); err != nil {
			return nil, eris.Wrap(err, "sourcing: scan existing request")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sourcing: existing requests iterate")
}

func (r *PostgresRepository) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM requests WHERE user_id = $1 AND creation_time >= $2`,
		userID, since,
	).Scan(&n)
	return n, eris.Wrapf(err, "sourcing: count requests of %s", userID)
}

// InsertRequest writes the request and its first revision in one statement.
func (r *PostgresRepository) InsertRequest(ctx context.Context, req *model.Request) error {
	_, err := r.q.Exec(ctx,
		`WITH ins AS (
		   INSERT INTO requests (id, user_id, billed_company_id, company_id, data_type, reporting_period, state, priority,
		                         creation_time, last_modified_date, member_comment, admin_comment, data_sourcing_id)
		   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))
		   RETURNING id, state, priority, admin_comment, data_sourcing_id, last_modified_date)
		 INSERT INTO request_revisions (request_id, state, priority, admin_comment, data_sourcing_id, modified_at)
		 SELECT id, state, priority, admin_comment, COALESCE(data_sourcing_id, ''), last_modified_date FROM ins`,
		req.ID, req.UserID, req.BilledCompanyID, req.CompanyID, req.DataType, req.ReportingPeriod,
		string(req.State), string(req.Priority), req.CreationTime, req.LastModifiedDate,
		req.MemberComment, req.AdminComment, req.DataSourcingID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == oneOpenRequestIndex {
		return ErrDuplicateRequest
	}
	return eris.Wrapf(err, "sourcing: insert request %s", req.ID)
}

// UpdateRequest writes the mutable fields and appends a revision.
func (r *PostgresRepository) UpdateRequest(ctx context.Context, req *model.Request) error {
	tag, err := r.q.Exec(ctx,
		`WITH upd AS (
		   UPDATE requests SET state = $2, priority = $3, last_modified_date = $4, admin_comment = $5,
		                       data_sourcing_id = NULLIF($6, '')
		   WHERE id = $1
		   RETURNING id, state, priority, admin_comment, data_sourcing_id, last_modified_date)
		 INSERT INTO request_revisions (request_id, state, priority, admin_comment, data_sourcing_id, modified_at)
		 SELECT id, state, priority, admin_comment, COALESCE(data_sourcing_id, ''), last_modified_date FROM upd`,
		req.ID, string(req.State), string(req.Priority), req.LastModifiedDate, req.AdminComment, req.DataSourcingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sourcing: update request %s", req.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Request not found", "no request with id %s exists", req.ID)
	}
	return nil
}

func (r *PostgresRepository) ListRequests(ctx context.Context, f RequestFilter) ([]StoredRequest, error) {
	query := `SELECT ` + requestColumns + `, s.state FROM requests r
		LEFT JOIN data_sourcings s ON s.id = r.data_sourcing_id WHERE 1=1`
	var args []any
	argIdx := 1
	for _, c := range []struct{ col, val string }{
		{"r.user_id", f.UserID},
		{"r.company_id", f.CompanyID},
		{"r.data_type", f.DataType},
		{"r.reporting_period", f.ReportingPeriod},
	} {
		if c.val == "" {
			continue
		}
		query += fmt.Sprintf(" AND %s = $%d", c.col, argIdx)
		args = append(args, c.val)
		argIdx++
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		query += fmt.Sprintf(" AND r.state = ANY($%d)", argIdx)
		args = append(args, states)
		argIdx++
	}
	query += " ORDER BY r.creation_time DESC, r.id"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sourcing: list requests")
	}
	defer rows.Close()

	var out []StoredRequest
	for rows.Next() {
		var sourcingState *string
		req, err := scanRequest(rows, &sourcingState)
		if err != nil {
			return nil, eris.Wrap(err, "sourcing: scan request")
		}
		var state *model.DataSourcingState
		if sourcingState != nil {
			s := model.DataSourcingState(*sourcingState)
			state = &s
		}
		out = append(out, newStoredRequest(*req, state))
	}
	return out, eris.Wrap(rows.Err(), "sourcing: list requests iterate")
}

func (r *PostgresRepository) RequestRevisions(ctx context.Context, id string) ([]model.RequestRevision, error) {
	rows, err := r.q.Query(ctx,
		`SELECT request_id, state, priority, admin_comment, data_sourcing_id, modified_at
		 FROM request_revisions WHERE request_id = $1 ORDER BY modified_at, revision`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sourcing: request revisions %s", id)
	}
	defer rows.Close()

	var out []model.RequestRevision
	for rows.Next() {
		var rev model.RequestRevision
		var state, priority string
		if err := rows.Scan(&rev.RequestID, &state, &priority, &rev.AdminComment, &rev.DataSourcingID, &rev.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "sourcing: scan request revision")
		}
		rev.State = model.RequestState(state)
		rev.Priority = model.RequestPriority(priority)
		out = append(out, rev)
	}
	return out, eris.Wrap(rows.Err(), "sourcing: request revisions iterate")
}

func (r *PostgresRepository) LockDimension(ctx context.Context, dim model.BasicDataDimension) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "sourcing/"+dim.String())
	return eris.Wrapf(err, "sourcing: lock %s", dim)
}

const sourcingColumns = `id, company_id, data_type, reporting_period, state, document_ids, expected_publication_dates,
	next_document_attempt, document_collector, data_extractor, admin_comment, priority, last_modified_date`

func scanSourcing(row pgx.Row) (*model.DataSourcing, error) {
	var s model.DataSourcing
	var state string
	err := row.Scan(&s.ID, &s.CompanyID, &s.DataType, &s.ReportingPeriod, &state, &s.DocumentIDs,
		&s.ExpectedPublicationDates, &s.DateOfNextDocumentSourcingAttempt, &s.DocumentCollector,
		&s.DataExtractor, &s.AdminComment, &s.Priority, &s.LastModifiedDate)
	if err != nil {
		return nil, err
	}
	s.State = model.DataSourcingState(state)
	return &s, nil
}

func (r *PostgresRepository) associatedRequests(ctx context.Context, s *model.DataSourcing) error {
	rows, err := r.q.Query(ctx,
		`SELECT id FROM requests WHERE data_sourcing_id = $1 ORDER BY creation_time, id`, s.ID)
	if err != nil {
		return eris.Wrapf(err, "sourcing: associated requests of %s", s.ID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return eris.Wrapf(err, "sourcing: scan associated requests of %s", s.ID)
	}
	s.AssociatedRequestIDs = ids
	return nil
}

func (r *PostgresRepository) getSourcing(ctx context.Context, query string, args ...any) (*model.DataSourcing, error) {
	s, err := scanSourcing(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.associatedRequests(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) GetSourcing(ctx context.Context, id string, forUpdate bool) (*model.DataSourcing, error) {
	query := `SELECT ` + sourcingColumns + ` FROM data_sourcings WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := r.getSourcing(ctx, query, id)
	return s, eris.Wrapf(err, "sourcing: get data sourcing %s", id)
}

func (r *PostgresRepository) FindSourcing(ctx context.Context, dim model.BasicDataDimension) (*model.DataSourcing, error) {
	s, err := r.getSourcing(ctx,
		`SELECT `+sourcingColumns+` FROM data_sourcings
		 WHERE company_id = $1 AND data_type = $2 AND reporting_period = $3`,
		dim.CompanyID, dim.DataType, dim.ReportingPeriod)
	return s, eris.Wrapf(err, "sourcing: find data sourcing %s", dim)
}

// FindSourcings returns the work items of dims without their associated
// requests.
func (r *PostgresRepository) FindSourcings(ctx context.Context, dims []model.BasicDataDimension) ([]model.DataSourcing, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	companies, types, periods := dimensionArrays(dims)
	rows, err := r.q.Query(ctx,
		`SELECT `+sourcingColumns+` FROM data_sourcings
		 WHERE (company_id, data_type, reporting_period) IN (
		   SELECT * FROM unnest($1::text[], $2::text[], $3::text[]))`,
		companies, types, periods,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sourcing: find data sourcings")
	}
	defer rows.Close()

	var out []model.DataSourcing
	for rows.Next() {
		s, err := scanSourcing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sourcing: scan data sourcing")
		}
		out = append(out, *s)
	}
	return out, eris.Wrap(rows.Err(), "sourcing: find data sourcings iterate")
}

func (r *PostgresRepository) InsertSourcing(ctx context.Context, s *model.DataSourcing) error {
	_, err := r.q.Exec(ctx,
		`WITH ins AS (
		   INSERT INTO data_sourcings (`+sourcingColumns+`)
		   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		   RETURNING id, state, admin_comment, last_modified_date)
		 INSERT INTO data_sourcing_revisions (data_sourcing_id, state, admin_comment, modified_at)
		 SELECT id, state, admin_comment, last_modified_date FROM ins`,
		sourcingArgs(s)...,
	)
	return eris.Wrapf(err, "sourcing: insert data sourcing %s", s.ID)
}

func (r *PostgresRepository) UpdateSourcing(ctx context.Context, s *model.DataSourcing) error {
	tag, err := r.q.Exec(ctx,
		`WITH upd AS (
		   UPDATE data_sourcings SET company_id = $2, data_type = $3, reporting_period = $4, state = $5,
		     document_ids = $6, expected_publication_dates = $7, next_document_attempt = $8,
		     document_collector = $9, data_extractor = $10, admin_comment = $11, priority = $12,
		     last_modified_date = $13
		   WHERE id = $1
		   RETURNING id, state, admin_comment, last_modified_date)
		 INSERT INTO data_sourcing_revisions (data_sourcing_id, state, admin_comment, modified_at)
		 SELECT id, state, admin_comment, last_modified_date FROM upd`,
		sourcingArgs(s)...,
	)
	if err != nil {
		return eris.Wrapf(err, "sourcing: update data sourcing %s", s.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", s.ID)
	}
	return nil
}

func sourcingArgs(s *model.DataSourcing) []any {
	return []any{
		s.ID, s.CompanyID, s.DataType, s.ReportingPeriod, string(s.State), nonNil(s.DocumentIDs),
		nonNil(s.ExpectedPublicationDates), s.DateOfNextDocumentSourcingAttempt, s.DocumentCollector,
		s.DataExtractor, s.AdminComment, s.Priority, s.LastModifiedDate,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (r *PostgresRepository) SourcingRevisions(ctx context.Context, id string) ([]model.DataSourcingRevision, error) {
	rows, err := r.q.Query(ctx,
		`SELECT data_sourcing_id, state, admin_comment, modified_at
		 FROM data_sourcing_revisions WHERE data_sourcing_id = $1 ORDER BY modified_at, revision`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sourcing: data sourcing revisions %s", id)
	}
	defer rows.Close()

	var out []model.DataSourcingRevision
	for rows.Next() {
		var rev model.DataSourcingRevision
		var state string
		if err := rows.Scan(&rev.DataSourcingID, &state, &rev.AdminComment, &rev.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "sourcing: scan data sourcing revision")
		}
		rev.State = model.DataSourcingState(state)
		out = append(out, rev)
	}
	return out, eris.Wrap(rows.Err(), "sourcing: data sourcing revisions iterate")
}
