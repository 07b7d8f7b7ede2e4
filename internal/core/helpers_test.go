package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var testEpoch = time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

// fakeClock advances virtual time on Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) elapsed() time.Duration {
	return c.Now().Sub(testEpoch)
}

type queryAnswer struct {
	res QueryResult
	err error
}

type pollAnswer struct {
	poll JobPoll
	err  error
}

type queryCall struct {
	action  Action
	query   string
	nlogs   int
	timeout time.Duration
}

// scriptedSource answers log queries per action from a script. The last
// answer of a script repeats once the script is used up.
type scriptedSource struct {
	mu      sync.Mutex
	answers map[Action][]queryAnswer
	polls   map[JobHandle][]pollAnswer
	calls   []queryCall
	pollsN  map[JobHandle]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		answers: make(map[Action][]queryAnswer),
		polls:   make(map[JobHandle][]pollAnswer),
		pollsN:  make(map[JobHandle]int),
	}
}

func (s *scriptedSource) on(a Action, answers ...queryAnswer) *scriptedSource {
	s.answers[a] = append(s.answers[a], answers...)
	return s
}

func (s *scriptedSource) onJob(j JobHandle, answers ...pollAnswer) *scriptedSource {
	s.polls[j] = append(s.polls[j], answers...)
	return s
}

func actionOf(query string) Action {
	if strings.Contains(query, "action eq '"+string(ActionBlockContinue)+"'") {
		return ActionBlockContinue
	}
	return ActionBlockURL
}

func (s *scriptedSource) RunLogQuery(ctx context.Context, query string, maxRecords int, timeout time.Duration) (QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return QueryResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := actionOf(query)
	s.calls = append(s.calls, queryCall{action: a, query: query, nlogs: maxRecords, timeout: timeout})
	script := s.answers[a]
	if len(script) == 0 {
		return QueryResult{Shape: ShapeEmpty}, nil
	}
	ans := script[0]
	if len(script) > 1 {
		s.answers[a] = script[1:]
	}
	return ans.res, ans.err
}

func (s *scriptedSource) PollJob(ctx context.Context, job JobHandle) (JobPoll, error) {
	if err := ctx.Err(); err != nil {
		return JobPoll{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollsN[job]++
	script := s.polls[job]
	if len(script) == 0 {
		return JobPoll{State: JobPending}, nil
	}
	ans := script[0]
	if len(script) > 1 {
		s.polls[job] = script[1:]
	}
	return ans.poll, ans.err
}

func (s *scriptedSource) callsFor(a Action) []queryCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queryCall
	for _, c := range s.calls {
		if c.action == a {
			out = append(out, c)
		}
	}
	return out
}

func direct(urls ...string) queryAnswer {
	recs := make([]Record, len(urls))
	for i, u := range urls {
		recs[i] = Record{"misc": u, "action": "block-url"}
	}
	return queryAnswer{res: QueryResult{Shape: ShapeDirect, Records: recs}}
}

func empty() queryAnswer { return queryAnswer{res: QueryResult{Shape: ShapeEmpty}} }

func failing(err error) queryAnswer { return queryAnswer{err: err} }

func queued(job JobHandle) queryAnswer {
	return queryAnswer{res: QueryResult{Shape: ShapeJob, Job: job}}
}

// scriptedCommits answers commit status polls from a script; the last
// answer repeats.
type scriptedCommits struct {
	mu        sync.Mutex
	submitErr error
	onSubmit  func()
	statuses  []statusAnswer
	submits   int
	fetches   int
}

type statusAnswer struct {
	st  JobStatus
	err error
}

func status(tok string, progress int) statusAnswer {
	return statusAnswer{st: JobStatus{Status: tok, Progress: progress}}
}

func (c *scriptedCommits) SubmitCommit(ctx context.Context) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	if c.onSubmit != nil {
		c.onSubmit()
	}
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "42", nil
}

func (c *scriptedCommits) GetJobStatus(ctx context.Context, job JobHandle) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if len(c.statuses) == 0 {
		return JobStatus{Status: StatusActive}, nil
	}
	ans := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	return ans.st, ans.err
}

// memFirewall keeps categories in memory.
type memFirewall struct {
	*scriptedSource
	*scriptedCommits

	mu       sync.Mutex
	cats     []Category
	members  map[string][]string
	updates  int
	fetchErr error
}

func newMemFirewall(cats ...Category) *memFirewall {
	return &memFirewall{
		scriptedSource:  newScriptedSource(),
		scriptedCommits: &scriptedCommits{statuses: []statusAnswer{status(StatusFinished, 100)}},
		cats:            cats,
		members:         make(map[string][]string),
	}
}

func (f *memFirewall) ListCategories(ctx context.Context) ([]Category, error) {
	return f.cats, nil
}

func (f *memFirewall) FetchCategory(ctx context.Context, c Category) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]string(nil), f.members[c.Key()]...), nil
}

func (f *memFirewall) UpdateCategory(ctx context.Context, c Category, domains []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.members[c.Key()] = append([]string(nil), domains...)
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	tickets []Ticket
}

func (r *memRecorder) Record(ctx context.Context, t Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, t)
	return nil
}

var nopLog = zerolog.Nop()
