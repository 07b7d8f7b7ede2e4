package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/panos"
	"github.com/x-stp/pawl/internal/panos/panostest"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Kind  string          `json:"kind"`
}

type testAPI struct {
	fw     *panostest.Server
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	fw := panostest.NewServer()
	t.Cleanup(fw.Close)
	fw.AddCategory("shared", "allow-list", "existing.example.com/")
	fw.AddLogs(
		map[string]string{"action": "block-url", "misc": "www.youtube.com/watch?v=1"},
		map[string]string{"action": "block-url", "misc": "m.youtube.com/"},
	)

	c, err := panos.New(fw.URL, panos.WithHTTPClient(fw.Client()), panos.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, c.Authenticate(context.Background(), fw.User, fw.Password))

	searcher := core.NewSearcher(c,
		core.WithSearchLogger(zerolog.Nop()),
		core.WithSearchPolicy(core.SearchPolicy{AttemptBudgets: []time.Duration{time.Second}, JobCheckInterval: time.Millisecond}),
	)
	committer := core.NewCommitter(c,
		core.WithCommitLogger(zerolog.Nop()),
		core.WithCommitPolicy(core.CommitPolicy{
			InitialSettle:        time.Millisecond,
			PollInterval:         time.Millisecond,
			AdaptAfter:           8,
			MaxPolls:             10,
			SettleRecheck:        time.Millisecond,
			MaxConsecutiveErrors: 3,
		}),
	)
	wl := core.NewWhitelistService(c, committer, core.WithWhitelistLogger(zerolog.Nop()))

	return &testAPI{
		fw: fw,
		router: NewRouter(RouterConfig{
			Handler:      NewHandler(searcher, wl),
			MaxBodyBytes: 4096,
			ServeMetrics: true,
		}),
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerUser, "alice")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-123")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))
}

func TestValidateEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodPost, "/api/validate", `{"urls":"youtube.com\nbad url, *.example.org"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got ValidateResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, []string{"youtube.com/", "*.example.org"}, got.Valid)
	require.Len(t, got.Invalid, 1)
	assert.Equal(t, "bad url", got.Invalid[0].Input)
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodPost, "/api/search", `{"search_term":"youtube","action_type":"block-url"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res core.SearchResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Success)
	assert.Equal(t, []string{"m.youtube.com", "www.youtube.com"}, res.Domains)
	assert.Equal(t, core.Fingerprint(res.Domains), res.Fingerprint)
}

func TestSearchEndpointRejectsBadInput(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	cases := map[string]string{
		"bad action":    `{"search_term":"youtube","action_type":"allow"}`,
		"short term":    `{"search_term":"y"}`,
		"missing term":  `{"action_type":"both"}`,
		"unknown field": `{"search_term":"youtube","extra":1}`,
		"not json":      `search_term=youtube`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w, env := a.do(t, http.MethodPost, "/api/search", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation", env.Kind)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, _ := a.do(t, http.MethodPost, "/api/validate", `{"urls":"`+strings.Repeat("a", 5000)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCategoriesEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.fw.AddCategory("vsys1", "partners")
	w, env := a.do(t, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cats []CategoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &cats))
	require.Len(t, cats, 2)
	assert.Equal(t, "allow-list (shared)", cats[0].Key)
	assert.Equal(t, "partners (vsys1)", cats[1].Key)
}

func TestWhitelistAndCommitStatus(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodPost, "/api/whitelist",
		`{"category":"allow-list (shared)","ticket_id":"INC-42","urls":["m.youtube.com","www.youtube.com"],"action_type":"block-url"}`)
	require.Equal(t, http.StatusOK, w.Code, env.Error)

	var out core.WhitelistOutcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.OK)
	require.NotNil(t, out.Commit)
	assert.Equal(t, core.CommitCompleted, out.Commit.State)
	assert.Contains(t, string(env.Data), `"polling_completed":true`)
	assert.Equal(t, []string{"existing.example.com/", "m.youtube.com", "www.youtube.com"}, a.fw.Members("shared", "allow-list"))

	w, env = a.do(t, http.MethodGet, "/api/commits/"+string(out.Commit.JobID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var st core.CommitStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, core.CommitCompleted, st.State)
}

func TestCommitStatusRejectsNonNumericJob(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	for _, job := range []string{"abc", "0", "-3", "12a", "%3Cx%3E"} {
		w, env := a.do(t, http.MethodGet, "/api/commits/"+job, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, job)
		assert.Equal(t, "validation", env.Kind, job)
		assert.Contains(t, env.Error, "invalid job id", job)
	}
	assert.Zero(t, a.fw.Hits("jobs"))
}

func TestWhitelistValidation(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodPost, "/api/whitelist", `{"category":"allow-list","ticket_id":"x y","urls":["a.example.com"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "ticket_id")

	w, env = a.do(t, http.MethodPost, "/api/whitelist", `{"category":"nope","ticket_id":"INC-1","urls":["a.example.com"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid category selected", env.Error)
}

func TestFirewallErrorsMapToStatus(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	a.fw.FailNext("config", http.StatusServiceUnavailable)
	w, env := a.do(t, http.MethodGet, "/api/categories", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "transport", env.Kind)

	a.fw.FailNext("config", http.StatusForbidden)
	w, env = a.do(t, http.MethodGet, "/api/categories", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "auth", env.Kind)

	a.fw.FailNext("jobs", http.StatusInternalServerError)
	w, env = a.do(t, http.MethodGet, "/api/commits/123", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "remote", env.Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	w, _ := a.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusBadRequest, StatusFor(core.ErrNoTerms))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(errBodyTooLarge))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(context.Canceled))
}
