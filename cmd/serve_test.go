package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/icp"
	"github.com/sells-group/sales-agent/internal/learning"
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/monitoring"
	"github.com/sells-group/sales-agent/internal/orchestrator"
	"github.com/sells-group/sales-agent/internal/qualify"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/store"
)

func testProfile() *model.ICPProfile {
	return &model.ICPProfile{
		ID:      "icp-test",
		Version: 1,
		Criteria: []model.Criterion{
			{Name: "industry", AttributePath: "industry", Weight: 0.6, Kind: model.MatchExact, Target: model.Target{Value: "plumbing"}},
			{Name: "employees", AttributePath: "employee_count", Weight: 0.4, Kind: model.MatchRange, Target: model.Target{Min: 10, Max: 200}},
		},
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// newTestEnv builds an agentEnv over a throwaway SQLite store with a seeded
// profile and no external collaborators.
func newTestEnv(t *testing.T) *agentEnv {
	t.Helper()
	ctx := context.Background()

	cfg = &config.Config{}
	cfg.Monitoring.LookbackWindowHours = 168
	cfg.Orchestrator.StaleDeferredDays = 30
	cfg.Orchestrator.DeferredCooldownHours = 72

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	require.NoError(t, st.SaveProfileVersion(ctx, testProfile()))

	profiles, err := icp.NewStore(testProfile(), nil, icp.WithPersister(st))
	require.NoError(t, err)

	framework, err := qualify.Preset("bant")
	require.NoError(t, err)

	engine := learning.NewEngine(profiles, st, st, cfg.Learning, learning.WithOutcomeMarker(st))
	orch := orchestrator.New(st, profiles, framework, orchestrator.Deps{Learning: engine}, cfg.Orchestrator, resilience.DefaultRetryConfig())

	return &agentEnv{
		Store:        st,
		Profiles:     profiles,
		Framework:    framework,
		Learning:     engine,
		Orchestrator: orch,
	}
}

func newTestServer(t *testing.T) (*agentEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t)
	collector := monitoring.NewCollector(env.Store, cfg.Orchestrator.StaleDeferredAge())
	ts := httptest.NewServer(newRouter(env, collector))
	t.Cleanup(ts.Close)
	return env, ts
}

func TestServe_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_AdmitLead(t *testing.T) {
	env, ts := newTestServer(t)

	payload, _ := json.Marshal(map[string]any{
		"company_name": "Acme Plumbing",
		"domain":       "acmeplumbing.com",
		"attributes":   map[string]any{"industry": "plumbing"},
	})
	resp, err := http.Post(ts.URL+"/leads", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["lead_id"])

	// Admission is durable even though processing is async.
	require.Eventually(t, func() bool {
		lead, err := env.Store.GetLead(context.Background(), body["lead_id"])
		return err == nil && lead.CompanyName == "Acme Plumbing"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServe_AdmitLead_MissingCompanyName(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/leads", "application/json", bytes.NewReader([]byte(`{"domain":"x.com"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_GetLead_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/leads/ld-missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_GetLead(t *testing.T) {
	env, ts := newTestServer(t)

	lead := &model.Lead{CompanyName: "Known Co"}
	require.NoError(t, env.Orchestrator.Admit(context.Background(), lead))

	resp, err := http.Get(ts.URL + "/leads/" + lead.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Lead
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Known Co", got.CompanyName)
	assert.Equal(t, model.PhaseDiscovered, got.Phase)
}

func TestServe_Enrichment(t *testing.T) {
	env, ts := newTestServer(t)

	lead := &model.Lead{CompanyName: "Enrich Co"}
	require.NoError(t, env.Orchestrator.Admit(context.Background(), lead))

	payload := []byte(`{"employee_count": 42}`)
	resp, err := http.Post(ts.URL+"/leads/"+lead.ID+"/enrichment", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Lead
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, float64(42), got.EnrichedAttributes["employee_count"])
}

func TestServe_Profile(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/profile")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.ICPProfile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 1, got.Version)
	assert.Len(t, got.Criteria, 2)
}

func TestServe_ProfileVersions(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/profile/versions")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []model.ICPProfile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 1)
}

func TestServe_Status(t *testing.T) {
	env, ts := newTestServer(t)

	require.NoError(t, env.Orchestrator.Admit(context.Background(), &model.Lead{CompanyName: "Metrics Co"}))

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.TotalLeads)
}

func TestServe_Suggestions_Empty(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/suggestions")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []model.LearningSuggestion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Empty(t, got)
}

func TestServe_CommitSuggestion(t *testing.T) {
	env, ts := newTestServer(t)

	require.NoError(t, env.Store.SaveSuggestion(context.Background(), &model.LearningSuggestion{
		ID:          "sg-1",
		Criterion:   "industry",
		WeightDelta: 0.05,
		Confidence:  0.4,
		Status:      model.SuggestionProposed,
		CreatedAt:   time.Now().UTC(),
	}))

	resp, err := http.Post(ts.URL+"/suggestions/sg-1/commit", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile model.ICPProfile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, 2, profile.Version)
	assert.Equal(t, 2, env.Profiles.Current().Version)

	// Re-committing an applied suggestion is rejected.
	resp2, err := http.Post(ts.URL+"/suggestions/sg-1/commit", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestServe_CommitSuggestion_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/suggestions/sg-ghost/commit", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
