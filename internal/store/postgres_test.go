package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

var testDim = model.DataPointDimension{CompanyID: "c1", DataPointType: "extendedDecimalRevenue", ReportingPeriod: "2023"}

func dataPointColumnNames() []string {
	return []string{"data_id", "data_point_type", "company_id", "reporting_period", "uploader_user_id", "upload_time", "currently_active", "qa_status", "content"}
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS data_points").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetDataPoint(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM data_points WHERE data_id = \\$1").
		WithArgs("dp1").
		WillReturnRows(pgxmock.NewRows(dataPointColumnNames()).
			AddRow("dp1", testDim.DataPointType, "c1", "2023", "u1", now, true, "Accepted", []byte(`{"value":1}`)))

	dp, err := s.GetDataPoint(context.Background(), "dp1")
	require.NoError(t, err)
	require.NotNil(t, dp)
	assert.Equal(t, testDim, dp.Dimension())
	assert.Equal(t, model.QaAccepted, dp.QaStatus)
	assert.True(t, dp.CurrentlyActive)
	assert.JSONEq(t, `{"value":1}`, string(dp.Content))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetDataPoint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT .+ FROM data_points").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	dp, err := s.GetDataPoint(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, dp)
}

func TestPostgres_GetDataPoints_Batched(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	ids := []string{"a", "b", "c"}
	mock.ExpectQuery("WHERE data_id = ANY\\(\\$1\\)").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows(dataPointColumnNames()).
			AddRow("a", "t1", "c1", "2023", "u1", now, true, "Pending", []byte(`{}`)).
			AddRow("c", "t2", "c1", "2023", "u1", now, false, "Pending", []byte(`{}`)))

	got, err := s.GetDataPoints(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.NotContains(t, got, "b")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetDataPointQaStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("UPDATE data_points SET qa_status").
		WithArgs("Accepted", "dp1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE data_points SET qa_status").
		WithArgs("Accepted", "dp1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.SetDataPointQaStatus(context.Background(), "dp1", model.QaAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetDataPointQaStatus(context.Background(), "dp1", model.QaAccepted)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateCurrentlyActive_Swap(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(testDim.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT data_id FROM data_points").
		WithArgs("c1", testDim.DataPointType, "2023").
		WillReturnRows(pgxmock.NewRows([]string{"data_id"}).AddRow("old"))
	mock.ExpectExec("SET currently_active = false").WithArgs("old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET currently_active = true").WithArgs("new", "c1", testDim.DataPointType, "2023").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	act, err := s.UpdateCurrentlyActive(context.Background(), testDim, "new")
	require.NoError(t, err)
	assert.Equal(t, Activation{Deactivate: "old", Activate: "new"}, act)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateCurrentlyActive_AlreadyActive(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(testDim.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT data_id FROM data_points").
		WithArgs("c1", testDim.DataPointType, "2023").
		WillReturnRows(pgxmock.NewRows([]string{"data_id"}).AddRow("same"))
	mock.ExpectCommit()

	act, err := s.UpdateCurrentlyActive(context.Background(), testDim, "same")
	require.NoError(t, err)
	assert.True(t, act.NoOp())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateCurrentlyActive_UnknownID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(testDim.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT data_id FROM data_points").
		WithArgs("c1", testDim.DataPointType, "2023").
		WillReturnRows(pgxmock.NewRows([]string{"data_id"}))
	mock.ExpectExec("SET currently_active = true").WithArgs("ghost", "c1", testDim.DataPointType, "2023").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.UpdateCurrentlyActive(context.Background(), testDim, "ghost")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	meta := model.DatasetMeta{
		DatasetID: "ds1", CompanyID: "c1", DataType: "sfdr", ReportingPeriod: "2023",
		UploaderUserID: "u1", UploadTime: time.Now().UTC(), QaStatus: model.QaPending,
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO datasets").
		WithArgs("ds1", "c1", "sfdr", "2023", "u1", meta.UploadTime, "Pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"dataset_data_points"}, []string{"dataset_id", "path", "data_id"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := s.InsertDataset(context.Background(), meta, map[string]string{"general.revenue": "a", "general.name": "b"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetDatasetDataPoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT path, data_id FROM dataset_data_points").
		WithArgs("ds1").
		WillReturnRows(pgxmock.NewRows([]string{"path", "data_id"}).
			AddRow("general.revenue", "a").
			AddRow("general.name", "b"))

	got, err := s.GetDatasetDataPoints(context.Background(), "ds1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"general.revenue": "a", "general.name": "b"}, got)
}

func TestPostgres_ListActive_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("company_id = ANY\\(\\$1\\) AND data_point_type = ANY\\(\\$2\\)").
		WithArgs([]string{"c1"}, []string{"t1"}).
		WillReturnRows(pgxmock.NewRows([]string{"data_id", "data_point_type", "company_id", "reporting_period", "uploader_user_id", "upload_time", "currently_active", "qa_status"}).
			AddRow("a", "t1", "c1", "2023", "u1", time.Now(), true, "Accepted"))

	metas, err := s.ListActive(context.Background(), ActiveFilter{CompanyIDs: []string{"c1"}, DataPointTypes: []string{"t1"}})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "a", metas[0].DataPointID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	meta := model.DatasetMeta{
		DatasetID: "ds1", CompanyID: "c1", DataType: "sfdr", ReportingPeriod: "2023",
		UploaderUserID: "u1", UploadTime: now, QaStatus: model.QaAccepted,
	}
	dp := &model.DataPoint{
		DataPointMeta: model.DataPointMeta{
			DataPointID: "new", DataPointType: "sites[0].city", CompanyID: "c1", ReportingPeriod: "2023",
			UploaderUserID: "u1", UploadTime: now, QaStatus: model.QaAccepted,
		},
		Content: []byte(`{"value":"Rome"}`),
	}
	stale := model.DataPointDimension{CompanyID: "c1", DataPointType: "sites[1].city", ReportingPeriod: "2023"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data_points").
		WithArgs("new", "sites[0].city", "c1", "2023", "u1", now, false, "Accepted", []byte(`{"value":"Rome"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO datasets").
		WithArgs("ds1", "c1", "sfdr", "2023", "u1", now, "Accepted").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"dataset_data_points"}, []string{"dataset_id", "path", "data_id"}).
		WillReturnResult(1)
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(dp.Dimension().String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT data_id FROM data_points").
		WithArgs("c1", "sites[0].city", "2023").
		WillReturnRows(pgxmock.NewRows([]string{"data_id"}).AddRow("old0"))
	mock.ExpectExec("SET currently_active = false").WithArgs("old0").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET currently_active = true").WithArgs("new", "c1", "sites[0].city", "2023").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT data_point_type FROM data_points").
		WithArgs("c1", "2023", "sites[").
		WillReturnRows(pgxmock.NewRows([]string{"data_point_type"}).AddRow("sites[0].city").AddRow("sites[1].city"))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(stale.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT data_id FROM data_points").
		WithArgs("c1", "sites[1].city", "2023").
		WillReturnRows(pgxmock.NewRows([]string{"data_id"}).AddRow("old1"))
	mock.ExpectExec("SET currently_active = false").WithArgs("old1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	acts, err := s.WriteDataset(context.Background(), DatasetWrite{
		Meta:          meta,
		Points:        []*model.DataPoint{dp},
		Mapping:       map[string]string{"sites[0].city": "new"},
		Activate:      true,
		ReplaceArrays: []string{"sites"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Activation{{Deactivate: "old0", Activate: "new"}, {Deactivate: "old1"}}, acts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteDataset_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data_points").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.WriteDataset(context.Background(), DatasetWrite{
		Meta:   model.DatasetMeta{DatasetID: "ds1"},
		Points: []*model.DataPoint{{DataPointMeta: model.DataPointMeta{DataPointID: "a"}}},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
