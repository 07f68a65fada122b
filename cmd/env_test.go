package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/config"
	"github.com/sells-group/dataland/internal/events"
)

const testCompanies = `
companies:
  - id: c1
    name: Example AG
    identifiers:
      Lei: [LEI-1]
`

// useLocalConfig points cfg at a sqlite store, file specs and a seeded
// in-memory company directory.
func useLocalConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	specDir := filepath.Join(dir, "specs")
	require.NoError(t, os.Mkdir(specDir, 0o755))
	companyFile := filepath.Join(dir, "companies.yaml")
	require.NoError(t, os.WriteFile(companyFile, []byte(testCompanies), 0o644))

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = filepath.Join(dir, "dataland.db")
	c.Server.Port = 8080
	c.Auth.JWTSecret = "test-secret"
	c.Auth.Issuer = "dataland"
	c.Quota.MaxRequestsForUser = 10
	c.Quota.Timezone = "Europe/Berlin"
	c.Specs.Source = "file"
	c.Specs.Dir = specDir
	c.Specs.CacheSize = 16
	c.Companies.File = companyFile
	c.Events.MaxAttempts = 3

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitEnv_Local(t *testing.T) {
	useLocalConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeServe)
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Postgres)
	assert.Nil(t, env.Requests)
	assert.Nil(t, env.Sourcing)
	assert.IsType(t, &events.MemoryBus{}, env.Queue)
	require.NotNil(t, env.DataPoints)
	require.NotNil(t, env.Datasets)

	require.NoError(t, env.Migrate(ctx))
	assert.NoError(t, env.Ping(ctx))

	ok, err := env.Companies.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []events.Type{events.QaStatusChanged}, env.newConsumer().Types())
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	useLocalConfig(t)
	cfg.Auth.JWTSecret = ""

	_, err := initEnv(context.Background(), config.ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")

	// Commands that write to Postgres refuse to run without it.
	_, err = initEnv(context.Background(), config.ModeImport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestInitEnv_MissingSpecDir(t *testing.T) {
	useLocalConfig(t)
	cfg.Specs.Dir = filepath.Join(t.TempDir(), "missing")

	_, err := initEnv(context.Background(), config.ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load spec bundle")
}

func TestBuildRouter_Local(t *testing.T) {
	useLocalConfig(t)
	env, err := initEnv(context.Background(), config.ModeServe)
	require.NoError(t, err)
	defer env.Close()

	h := buildRouter(env)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/companies/validation?identifier=LEI-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "c1", body["companyId"])

	// Requests need Postgres.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/requests/mine", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
