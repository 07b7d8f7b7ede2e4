package panos_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/panos"
	"github.com/x-stp/pawl/internal/panos/panostest"
)

func newClient(t *testing.T, srv *panostest.Server) *panos.Client {
	t.Helper()
	c, err := panos.New(srv.URL, panos.WithHTTPClient(srv.Client()), panos.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return c
}

func authedClient(t *testing.T, srv *panostest.Server) *panos.Client {
	t.Helper()
	c := newClient(t, srv)
	require.NoError(t, c.Authenticate(context.Background(), srv.User, srv.Password))
	return c
}

func fastSearcher(c *panos.Client) *core.Searcher {
	return core.NewSearcher(c,
		core.WithSearchLogger(zerolog.Nop()),
		core.WithSearchPolicy(core.SearchPolicy{
			AttemptBudgets:   []time.Duration{time.Second},
			JobCheckInterval: time.Millisecond,
		}),
	)
}

func fastCommitter(c *panos.Client) *core.Committer {
	return core.NewCommitter(c,
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
}

func TestNewRejectsEmptyHost(t *testing.T) {
	t.Parallel()
	_, err := panos.New("  ")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	c, err := panos.New("fw01.example.net")
	require.NoError(t, err)
	assert.Equal(t, "fw01.example.net", c.Host())
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()

	c := newClient(t, srv)
	assert.False(t, c.Authenticated())

	err := c.Authenticate(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.True(t, core.IsAuth(err))
	assert.False(t, c.Authenticated())

	require.NoError(t, c.Authenticate(context.Background(), "admin", "admin"))
	assert.True(t, c.Authenticated())
}

func TestCallsRequireKey(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()

	_, err := newClient(t, srv).ListCategories(context.Background())
	assert.ErrorIs(t, err, panos.ErrNotAuthenticated)
	assert.Zero(t, srv.Hits("config"))

	stale, err := panos.New(srv.URL, panos.WithHTTPClient(srv.Client()), panos.WithAPIKey("expired"), panos.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = stale.ListCategories(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsAuth(err))
}

func TestCheckConnectivity(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	c := authedClient(t, srv)

	msg, err := c.CheckConnectivity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "API connectivity OK", msg)
}

func TestHTTPStatusTyping(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	c := authedClient(t, srv)

	cat := core.Category{Name: "x", Context: "shared", XPath: panostest.SharedXPath + "/entry[@name='x']"}
	srv.FailNext("config", http.StatusServiceUnavailable, http.StatusUnauthorized, http.StatusInternalServerError)

	_, err := c.FetchCategory(context.Background(), cat)
	assert.True(t, core.IsRetryable(err))
	_, err = c.FetchCategory(context.Background(), cat)
	assert.True(t, core.IsAuth(err))
	_, err = c.FetchCategory(context.Background(), cat)
	assert.Equal(t, core.KindRemote, core.KindOf(err))

	members, err := c.FetchCategory(context.Background(), cat)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRunLogQueryDirect(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.AddLogs(
		map[string]string{"action": "block-url", "misc": "www.youtube.com/watch?v=1"},
		map[string]string{"action": "block-continue", "misc": "music.youtube.com/"},
		map[string]string{"action": "block-url", "misc": "example.org/"},
	)
	c := authedClient(t, srv)

	q, err := core.BuildQuery([]string{"youtube"}, core.ActionBlockURL, time.Hour, time.Now())
	require.NoError(t, err)
	res, err := c.RunLogQuery(context.Background(), q, 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.ShapeDirect, res.Shape)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "www.youtube.com/watch?v=1", res.Records[0]["misc"])
	assert.Equal(t, "block-url", res.Records[0]["action"])

	q, err = core.BuildQuery([]string{"nothing-here"}, core.ActionBlockURL, time.Hour, time.Now())
	require.NoError(t, err)
	res, err = c.RunLogQuery(context.Background(), q, 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.ShapeEmpty, res.Shape)
}

func TestRunLogQueryJob(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.LogJobPolls = 2
	srv.AddLogs(map[string]string{"action": "block-url", "url": "cdn.example.com/x"})
	c := authedClient(t, srv)

	res, err := c.RunLogQuery(context.Background(), "( url contains 'example' ) and ( action eq 'block-url' )", 10, time.Second)
	require.NoError(t, err)
	require.Equal(t, core.ShapeJob, res.Shape)
	require.NotEmpty(t, res.Job)

	for range 2 {
		poll, err := c.PollJob(context.Background(), res.Job)
		require.NoError(t, err)
		assert.Equal(t, core.JobPending, poll.State)
	}
	poll, err := c.PollJob(context.Background(), res.Job)
	require.NoError(t, err)
	assert.Equal(t, core.JobFinished, poll.State)
	require.Len(t, poll.Records, 1)
	assert.Equal(t, "cdn.example.com/x", poll.Records[0]["url"])
}

func TestPollJobFailure(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.FailLogJobs = true
	c := authedClient(t, srv)

	res, err := c.RunLogQuery(context.Background(), "( url contains 'x' ) and ( action eq 'block-url' )", 10, time.Second)
	require.NoError(t, err)
	poll, err := c.PollJob(context.Background(), res.Job)
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, poll.State)

	_, err = c.PollJob(context.Background(), "9999")
	assert.Equal(t, core.KindRemote, core.KindOf(err))
}

func TestSearchAgainstFirewall(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.LogJobPolls = 1
	srv.AddLogs(
		map[string]string{"action": "block-url", "misc": "www.youtube.com/watch?v=1"},
		map[string]string{"action": "block-url", "misc": "m.youtube.com/feed"},
		map[string]string{"action": "block-continue", "misc": "music.youtube.com/"},
	)
	c := authedClient(t, srv)

	res, err := fastSearcher(c).Search(context.Background(), "youtube", core.ActionBoth)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"m.youtube.com", "music.youtube.com", "www.youtube.com"}, res.Domains)
	assert.Equal(t, map[core.Action]int{core.ActionBlockURL: 2, core.ActionBlockContinue: 1}, res.Breakdown())
	assert.Equal(t, []string{"*.youtube.com"}, res.Wildcards)
}

func TestCategories(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.AddCategory("shared", "allow-list", "a.example.com/")
	srv.AddCategory("vsys1", "allow-list")
	srv.AddCategory("vsys2", "partners", "partner.example.net/")
	c := authedClient(t, srv)

	cats, err := c.ListCategories(context.Background())
	require.NoError(t, err)
	keys := make([]string, len(cats))
	for i, cat := range cats {
		keys[i] = cat.Key()
	}
	assert.Equal(t, []string{"allow-list (shared)", "allow-list (vsys1)", "partners (vsys2)"}, keys)

	members, err := c.FetchCategory(context.Background(), cats[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com/"}, members)

	require.NoError(t, c.UpdateCategory(context.Background(), cats[1], []string{"z.example.com/", "b.example.com/"}))
	assert.Equal(t, []string{"b.example.com/", "z.example.com/"}, srv.Members("vsys1", "allow-list"))
}

func TestCommitLifecycle(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.CommitPolls = 2
	c := authedClient(t, srv)

	st := fastCommitter(c).Commit(context.Background())
	assert.Equal(t, core.CommitCompleted, st.State)
	assert.Equal(t, core.StatusFinished, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 3, st.Polls)
	assert.NotEmpty(t, st.JobID)

	js, err := c.GetJobStatus(context.Background(), st.JobID)
	require.NoError(t, err)
	assert.True(t, js.Terminal())
}

func TestCommitFailure(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.FailCommits = true
	c := authedClient(t, srv)

	st := fastCommitter(c).Commit(context.Background())
	assert.Equal(t, core.CommitFailed, st.State)
	assert.Equal(t, core.StatusFailed, st.Status)
}

func TestWhitelistIsIdempotentAgainstFirewall(t *testing.T) {
	t.Parallel()
	srv := panostest.NewServer()
	defer srv.Close()
	srv.AddCategory("shared", "allow-list", "existing.example.com/")
	c := authedClient(t, srv)
	svc := core.NewWhitelistService(c, fastCommitter(c), core.WithWhitelistLogger(zerolog.Nop()))

	req := core.WhitelistRequest{
		Category: "allow-list (shared)",
		TicketID: "INC-2001",
		Domains:  []string{"www.youtube.com", "m.youtube.com"},
	}
	first, err := svc.SubmitWhitelist(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.OK)
	require.NotNil(t, first.Commit)
	assert.Equal(t, core.CommitCompleted, first.Commit.State)
	want := []string{"existing.example.com/", "m.youtube.com", "www.youtube.com"}
	assert.Equal(t, want, srv.Members("shared", "allow-list"))

	second, err := svc.SubmitWhitelist(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.OK)
	assert.Equal(t, core.MsgNoNewURLs, second.Message)
	assert.Equal(t, want, srv.Members("shared", "allow-list"))
	assert.Equal(t, 1, srv.Hits("commit"))
}
