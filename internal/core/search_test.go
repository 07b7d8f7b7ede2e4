package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearcher(src LogSource, clock *fakeClock, p SearchPolicy) *Searcher {
	return NewSearcher(src,
		WithSearchClock(clock),
		WithSearchLogger(nopLog),
		WithSearchPolicy(p),
	)
}

func TestSearchBothActionsYoutube(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().
		on(ActionBlockURL, direct("https://m.youtube.com/watch?v=1", "https://youtube.com/", "https://m.youtube.com/feed")).
		on(ActionBlockContinue, empty())

	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{}).Search(context.Background(), "youtube", ActionBoth)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"m.youtube.com", "youtube.com"}, res.Domains)
	assert.Equal(t, 2, res.Count())
	assert.Equal(t, map[Action]int{ActionBlockURL: 2, ActionBlockContinue: 0}, res.Breakdown())
	assert.Equal(t, Fingerprint([]string{"youtube.com", "m.youtube.com"}), res.Fingerprint)
	assert.Equal(t, []string{"*.youtube.com"}, res.Wildcards)

	require.Len(t, res.PerAction, 2)
	for _, pa := range res.PerAction {
		assert.Len(t, pa.Attempts, len(DefaultAttemptBudgets), pa.Action)
		assert.True(t, pa.Success, pa.Action)
	}
	assert.Len(t, src.callsFor(ActionBlockURL), 4)
	assert.Len(t, src.callsFor(ActionBlockContinue), 4)
}

func TestSearchUnionCoversEveryAttempt(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	src := newScriptedSource().on(ActionBlockURL,
		direct("a.youtube.com"),
		failing(NewError(KindTransport, "log-query", "connection reset by peer")),
		direct("b.youtube.com", "a.youtube.com"),
		direct("example.org"),
	)

	res, err := newTestSearcher(src, clock, SearchPolicy{}).Search(context.Background(), "youtube", ActionBlockURL)
	require.NoError(t, err)
	assert.True(t, res.Success)

	attempts := res.Attempts()
	require.Len(t, attempts, 4)
	for _, a := range attempts {
		assert.Subset(t, res.Domains, a.Domains)
	}
	assert.Equal(t, []int{1, 0, 1, 0}, []int{attempts[0].NewDomains, attempts[1].NewDomains, attempts[2].NewDomains, attempts[3].NewDomains})
	assert.Equal(t, "connection", attempts[1].ErrorKind)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{attempts[0].Ordinal, attempts[1].Ordinal, attempts[2].Ordinal, attempts[3].Ordinal})

	// three pauses, none before the first attempt
	assert.Equal(t, 3*DefaultAttemptPause, clock.elapsed())
}

func TestSearchEscalatesBudgets(t *testing.T) {
	t.Parallel()
	src := newScriptedSource()
	budgets := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	_, err := newTestSearcher(src, newFakeClock(), SearchPolicy{AttemptBudgets: budgets}).
		Search(context.Background(), "youtube", ActionBlockURL)
	require.NoError(t, err)

	calls := src.callsFor(ActionBlockURL)
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, budgets[i]+QueryGrace, c.timeout)
		assert.Equal(t, DefaultMaxRecords, c.nlogs)
	}
}

func TestSearchCleanEmptyIsSuccess(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().on(ActionBlockURL, empty(), direct("example.org"))
	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{}).Search(context.Background(), "youtube", ActionBlockURL)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Domains)
	assert.Zero(t, res.Count())
}

func TestSearchAllTransportFailures(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().on(ActionBlockURL, failing(NewError(KindTransport, "log-query", "connection refused")))
	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{}).Search(context.Background(), "youtube", ActionBlockURL)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection error")
	assert.Len(t, res.Attempts(), 4)
}

func TestSearchEarlyExit(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().on(ActionBlockURL, empty(), direct("a.youtube.com", "b.youtube.com"))
	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{EarlyExitThreshold: 2}).
		Search(context.Background(), "youtube", ActionBlockURL)
	require.NoError(t, err)
	assert.Len(t, res.Attempts(), 2)
	assert.Len(t, res.Domains, 2)
}

func TestSearchAuthStopsRun(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().on(ActionBlockURL, failing(NewError(KindAuth, "log-query", "invalid credentials")))
	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{}).Search(context.Background(), "youtube", ActionBlockURL)
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "authentication error")
	assert.Len(t, res.Attempts(), 1)
}

func TestSearchAuthAfterDomainsKeepsSuccess(t *testing.T) {
	t.Parallel()
	src := newScriptedSource().on(ActionBlockURL,
		direct("a.youtube.com"),
		failing(NewError(KindAuth, "log-query", "invalid credentials")),
	)
	res, err := newTestSearcher(src, newFakeClock(), SearchPolicy{}).Search(context.Background(), "youtube", ActionBlockURL)
	require.Error(t, err)
	assert.True(t, IsAuth(err))

	assert.True(t, res.Success)
	assert.Equal(t, []string{"a.youtube.com"}, res.Domains)
	assert.Contains(t, res.Error, "authentication error")
	assert.Len(t, res.Attempts(), 2)
	require.Len(t, res.PerAction, 1)
	assert.True(t, res.PerAction[0].Success)
}

func TestSearchZeroPauseUsesDefault(t *testing.T) {
	t.Parallel()
	for _, pause := range []time.Duration{0, -time.Second} {
		s := newTestSearcher(newScriptedSource(), newFakeClock(), SearchPolicy{AttemptPause: pause})
		assert.Equal(t, DefaultAttemptPause, s.Policy().AttemptPause, pause)
	}
	s := newTestSearcher(newScriptedSource(), newFakeClock(), SearchPolicy{AttemptPause: time.Second})
	assert.Equal(t, time.Second, s.Policy().AttemptPause)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()
	s := newTestSearcher(newScriptedSource(), newFakeClock(), SearchPolicy{})

	res, err := s.Search(context.Background(), " , a", ActionBlockURL)
	assert.ErrorIs(t, err, ErrNoTerms)
	assert.False(t, res.Success)
	assert.Len(t, res.Rejected, 1)

	_, err = s.Search(context.Background(), "youtube", Action("allow"))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestSearchCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestSearcher(newScriptedSource(), newFakeClock(), SearchPolicy{}).Search(ctx, "youtube", ActionBlockURL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
}
