// Package panos talks to the PAN-OS XML API of a Palo Alto firewall.
package panos

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/client"
	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/metrics"
)

const (
	// DefaultAPITimeout bounds ordinary API calls.
	DefaultAPITimeout = 30 * time.Second
	// DefaultStatusTimeout bounds a single job status check.
	DefaultStatusTimeout = 10 * time.Second
	// DefaultCommitTimeout bounds the commit submission call.
	DefaultCommitTimeout = 60 * time.Second

	maxBodyBytes = 32 << 20

	sharedCategoryXPath = "/config/shared/profiles/custom-url-category"
	vsysXPath           = "/config/devices/entry[@name='localhost.localdomain']/vsys"
)

// Client is a PAN-OS XML API client. The API key is obtained once by
// Authenticate and read concurrently afterwards.
type Client struct {
	base          string
	http          *http.Client
	limiter       *RateLimiter
	log           zerolog.Logger
	apiTimeout    time.Duration
	statusTimeout time.Duration
	commitTimeout time.Duration

	mu  sync.RWMutex
	key string
}

var _ core.Firewall = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimiter paces every call through rl.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithAPIKey skips keygen and uses key directly.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.key = key }
}

// WithTimeout sets the ordinary call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.apiTimeout = d
		}
	}
}

// New creates a client for host, which may be a bare hostname or a full
// base URL such as https://10.0.0.1:8443.
func New(host string, opts ...Option) (*Client, error) {
	base, err := baseURL(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:          base,
		log:           *logger.Named("panos"),
		apiTimeout:    DefaultAPITimeout,
		statusTimeout: DefaultStatusTimeout,
		commitTimeout: DefaultCommitTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = client.GetHTTPClient()
	}
	return c, nil
}

func baseURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", core.NewError(core.KindValidation, "panos", "firewall host is empty")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return "", core.NewError(core.KindValidation, "panos", fmt.Sprintf("invalid firewall host %q", host))
	}
	u.Path = "/api/"
	u.RawQuery = ""
	return u.String(), nil
}

// Host returns the firewall host name.
func (c *Client) Host() string {
	u, _ := url.Parse(c.base)
	return u.Host
}

func (c *Client) apiKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Authenticated reports whether an API key is held.
func (c *Client) Authenticated() bool { return c.apiKey() != "" }

// call issues one API request and returns the parsed success envelope.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values, timeout time.Duration, needKey bool) (*node, error) {
	if needKey {
		key := c.apiKey()
		if key == "" {
			return nil, ErrNotAuthenticated
		}
		params.Set("key", key)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m := metrics.GetMetrics()
	start := time.Now()
	n, err := c.roundTrip(ctx, endpoint, params)
	elapsed := time.Since(start)
	if err != nil {
		m.RecordRemoteRequest(endpoint, "error", elapsed)
		m.RecordRemoteError(endpoint, kindLabel(err))
		if core.IsRetryable(err) {
			c.limiter.RecordFailure()
		}
		c.log.Debug().Err(err).Str("endpoint", endpoint).Dur("elapsed", elapsed).Msg("api call failed")
		return nil, err
	}
	m.RecordRemoteRequest(endpoint, "success", elapsed)
	c.limiter.RecordSuccess()
	c.log.Trace().Str("endpoint", endpoint).Dur("elapsed", elapsed).Msg("api call")
	return n, nil
}

func (c *Client) roundTrip(ctx context.Context, op string, params url.Values) (*node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, core.WrapError(core.KindOther, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, body)
	}

	n, err := parseResponse(body)
	if err != nil {
		return nil, &core.Error{Kind: core.KindRemote, Op: op, Msg: "XML parsing error: " + err.Error(), Err: err}
	}
	if !n.ok() {
		return nil, responseError(op, n)
	}
	return n, nil
}

// Authenticate exchanges credentials for an API key and keeps it.
func (c *Client) Authenticate(ctx context.Context, user, password string) error {
	params := url.Values{"type": {"keygen"}, "user": {user}, "password": {password}}
	n, err := c.call(ctx, "keygen", params, c.apiTimeout, false)
	if err != nil {
		if core.KindOf(err) == core.KindRemote {
			return core.NewError(core.KindAuth, "keygen", "Authentication failed: "+core.Reason(err))
		}
		return err
	}
	key := n.childText("key")
	if key == "" {
		return core.NewError(core.KindAuth, "keygen", "Authentication failed: no key in response")
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	c.log.Info().Str("host", c.Host()).Msg("authenticated")
	return nil
}

// CheckConnectivity runs "show system info", falling back to a version
// query for accounts without operational permissions.
func (c *Client) CheckConnectivity(ctx context.Context) (string, error) {
	params := url.Values{"type": {"op"}, "cmd": {"<show><system><info></info></system></show>"}}
	_, err := c.call(ctx, "op", params, c.apiTimeout, true)
	if err == nil {
		return "API connectivity OK", nil
	}
	if core.KindOf(err) != core.KindRemote {
		return "", err
	}
	if _, verr := c.call(ctx, "version", url.Values{"type": {"version"}}, c.apiTimeout, true); verr != nil {
		return "", fmt.Errorf("API test failed: %w", err)
	}
	return "API connectivity OK (version check)", nil
}

// RunLogQuery issues a URL log query.
func (c *Client) RunLogQuery(ctx context.Context, query string, maxRecords int, timeout time.Duration) (core.QueryResult, error) {
	params := url.Values{
		"type":     {"log"},
		"log-type": {"url"},
		"query":    {query},
		"nlogs":    {strconv.Itoa(maxRecords)},
	}
	n, err := c.call(ctx, "log-query", params, timeout, true)
	if err != nil {
		return core.QueryResult{}, err
	}
	if entries := n.findAll("entry"); len(entries) > 0 {
		return core.QueryResult{Shape: core.ShapeDirect, Records: toRecords(entries)}, nil
	}
	if job := n.childText("job"); job != "" {
		return core.QueryResult{Shape: core.ShapeJob, Job: core.JobHandle(job)}, nil
	}
	return core.QueryResult{Shape: core.ShapeEmpty}, nil
}

// PollJob checks a log query job once and fetches its records when done.
func (c *Client) PollJob(ctx context.Context, job core.JobHandle) (core.JobPoll, error) {
	js, err := c.jobStatus(ctx, "log-job", job)
	if err != nil {
		return core.JobPoll{}, err
	}
	poll := core.JobPoll{Progress: js.Progress}
	switch js.Status {
	case core.StatusFinished:
		records, err := c.jobResults(ctx, job)
		if err != nil {
			return core.JobPoll{}, err
		}
		poll.State = core.JobFinished
		poll.Records = records
	case core.StatusFailed:
		poll.State = core.JobFailed
	default:
		poll.State = core.JobPending
	}
	return poll, nil
}

func (c *Client) jobResults(ctx context.Context, job core.JobHandle) ([]core.Record, error) {
	params := url.Values{"type": {"log"}, "action": {"get"}, "job-id": {string(job)}}
	n, err := c.call(ctx, "log-results", params, c.apiTimeout, true)
	if err != nil {
		return nil, err
	}
	return toRecords(n.findAll("entry")), nil
}

// GetJobStatus reports the status of any firewall job.
func (c *Client) GetJobStatus(ctx context.Context, job core.JobHandle) (core.JobStatus, error) {
	return c.jobStatus(ctx, "job-status", job)
}

func (c *Client) jobStatus(ctx context.Context, endpoint string, job core.JobHandle) (core.JobStatus, error) {
	cmd := "<show><jobs><id>" + xmlEscape(string(job)) + "</id></jobs></show>"
	n, err := c.call(ctx, endpoint, url.Values{"type": {"op"}, "cmd": {cmd}}, c.statusTimeout, true)
	if err != nil {
		return core.JobStatus{}, err
	}
	j := n.find("job")
	if j == nil {
		return core.JobStatus{}, core.NewError(core.KindRemote, endpoint, fmt.Sprintf("no job info for job %s", job))
	}
	st := core.JobStatus{Status: j.childText("status"), Progress: 0}
	if st.Status == "" {
		st.Status = core.StatusUnknown
	}
	if p, err := strconv.Atoi(j.childText("progress")); err == nil {
		st.Progress = p
	}
	return st, nil
}

// SubmitCommit starts a configuration commit.
func (c *Client) SubmitCommit(ctx context.Context) (core.JobHandle, error) {
	params := url.Values{"type": {"commit"}, "cmd": {"<commit></commit>"}}
	n, err := c.call(ctx, "commit", params, c.commitTimeout, true)
	if err != nil {
		return "", err
	}
	job := n.childText("job")
	if job == "" {
		// Nothing to commit; PAN-OS answers success without a job.
		return "", core.NewError(core.KindRemote, "commit", n.message())
	}
	return core.JobHandle(job), nil
}

// ListCategories returns the shared custom URL categories followed by those
// of every vsys. A context the firewall refuses to read is skipped.
func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	cats, err := c.categoriesAt(ctx, sharedCategoryXPath, "shared")
	if err != nil {
		return nil, err
	}

	n, err := c.configGet(ctx, vsysXPath)
	if err != nil && core.KindOf(err) != core.KindRemote {
		return nil, err
	}
	var vsysNames []string
	if n != nil {
		if v := n.find("vsys"); v != nil {
			for _, e := range v.children("entry") {
				if name := e.attr("name"); name != "" {
					vsysNames = append(vsysNames, name)
				}
			}
		}
	}
	if len(vsysNames) == 0 {
		vsysNames = []string{"vsys1"}
	}

	for _, vsys := range vsysNames {
		base := vsysXPath + "/entry[@name='" + vsys + "']/profiles/custom-url-category"
		vc, err := c.categoriesAt(ctx, base, vsys)
		if err != nil {
			return nil, err
		}
		cats = append(cats, vc...)
	}
	return cats, nil
}

func (c *Client) categoriesAt(ctx context.Context, base, scope string) ([]core.Category, error) {
	n, err := c.configGet(ctx, base)
	if err != nil {
		if core.KindOf(err) == core.KindRemote {
			c.log.Warn().Err(err).Str("context", scope).Msg("skipping category context")
			return nil, nil
		}
		return nil, err
	}
	var cats []core.Category
	for _, e := range n.findAll("entry") {
		if name := e.attr("name"); name != "" {
			cats = append(cats, core.Category{
				Name:    name,
				Context: scope,
				XPath:   base + "/entry[@name='" + name + "']",
			})
		}
	}
	return cats, nil
}

// FetchCategory returns the members of a custom URL category.
func (c *Client) FetchCategory(ctx context.Context, cat core.Category) ([]string, error) {
	n, err := c.configGet(ctx, cat.XPath+"/list")
	if err != nil {
		return nil, err
	}
	var members []string
	for _, m := range n.findAll("member") {
		if t := strings.TrimSpace(m.Text); t != "" {
			members = append(members, t)
		}
	}
	return members, nil
}

// UpdateCategory replaces the member list of cat with domains, sorted.
func (c *Client) UpdateCategory(ctx context.Context, cat core.Category, domains []string) error {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)
	element, err := memberList(sorted)
	if err != nil {
		return core.WrapError(core.KindOther, "config-edit", err)
	}
	params := url.Values{
		"type":    {"config"},
		"action":  {"edit"},
		"xpath":   {cat.XPath + "/list"},
		"element": {element},
	}
	_, err = c.call(ctx, "config-edit", params, c.apiTimeout, true)
	return err
}

func (c *Client) configGet(ctx context.Context, xpath string) (*node, error) {
	params := url.Values{"type": {"config"}, "action": {"get"}, "xpath": {xpath}}
	return c.call(ctx, "config-get", params, c.apiTimeout, true)
}

func toRecords(entries []*node) []core.Record {
	out := make([]core.Record, len(entries))
	for i, e := range entries {
		out[i] = core.Record(e.toRecord())
	}
	return out
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;")

func xmlEscape(s string) string { return xmlEscaper.Replace(s) }
