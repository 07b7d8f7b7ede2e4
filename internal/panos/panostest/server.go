// Package panostest provides an in-memory PAN-OS XML API for tests.
package panostest

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
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	SharedXPath = "/config/shared/profiles/custom-url-category"
	VsysXPath   = "/config/devices/entry[@name='localhost.localdomain']/vsys"
)

var (
	actionExpr  = regexp.MustCompile(`action eq '([^']*)'`)
	termExpr    = regexp.MustCompile(`url contains '([^']*)'`)
	jobIDExpr   = regexp.MustCompile(`<id>([^<]*)</id>`)
	vsysCatExpr = regexp.MustCompile(`^` + regexp.QuoteMeta(VsysXPath) + `/entry\[@name='([^']+)'\]/profiles/custom-url-category$`)
)

// Server is a fake firewall. Configure its exported fields before issuing
// requests; they are read under the server lock.
type Server struct {
	*httptest.Server

	User     string
	Password string
	Key      string

	// LogJobPolls queues every log query as a job that reports ACT this many
	// times before FIN. Zero answers log queries directly.
	LogJobPolls int
	// FailLogJobs makes queued log jobs end in FAIL.
	FailLogJobs bool
	// CommitPolls is how many times a commit job reports ACT before finishing.
	CommitPolls int
	// FailCommits makes commit jobs end in FAIL.
	FailCommits bool

	mu      sync.Mutex
	logs    []map[string]string
	cats    map[string]*category
	vsys    []string
	jobs    map[string]*job
	nextJob int
	faults  map[string][]int
	hits    map[string]int
}

type category struct {
	scope   string
	name    string
	members []string
}

type job struct {
	kind    string
	pending int
	fail    bool
	records []map[string]string
}

// NewServer starts a fake firewall with one vsys and the credentials
// admin/admin.
func NewServer() *Server {
	s := &Server{
		User:     "admin",
		Password: "admin",
		Key:      "LUFRPT1-test-key",
		cats:     make(map[string]*category),
		vsys:     []string{"vsys1"},
		jobs:     make(map[string]*job),
		nextJob:  100,
		faults:   make(map[string][]int),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddLogs appends URL log entries; every entry should carry an "action" field.
func (s *Server) AddLogs(entries ...map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entries...)
}

// AddCategory creates a custom URL category in scope ("shared" or a vsys name).
func (s *Server) AddCategory(scope, name string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope != "shared" && !slices.Contains(s.vsys, scope) {
		s.vsys = append(s.vsys, scope)
	}
	s.cats[entryXPath(scope, name)] = &category{scope: scope, name: name, members: append([]string(nil), members...)}
}

// Members returns the current member list of a category.
func (s *Server) Members(scope, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cats[entryXPath(scope, name)]; ok {
		return append([]string(nil), c.members...)
	}
	return nil
}

// FailNext answers the next len(codes) requests of kind reqType with the
// given HTTP status codes. reqType is the request "type" parameter, or
// "jobs" for job status checks.
func (s *Server) FailNext(reqType string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[reqType] = append(s.faults[reqType], codes...)
}

// Hits returns how many requests of kind reqType were served.
func (s *Server) Hits(reqType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[reqType]
}

func entryXPath(scope, name string) string {
	if scope == "shared" {
		return SharedXPath + "/entry[@name='" + name + "']"
	}
	return VsysXPath + "/entry[@name='" + scope + "']/profiles/custom-url-category/entry[@name='" + name + "']"
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	typ := r.Form.Get("type")
	kind := typ
	if typ == "op" && strings.Contains(r.Form.Get("cmd"), "<jobs>") {
		kind = "jobs"
	}
	s.hits[kind]++
	if codes := s.faults[kind]; len(codes) > 0 {
		s.faults[kind] = codes[1:]
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(codes[0])
		_, _ = w.Write([]byte(`<response status="error"><msg><line>injected failure</line></msg></response>`))
		return
	}

	if typ == "keygen" {
		if r.Form.Get("user") != s.User || r.Form.Get("password") != s.Password {
			writeEnvelope(w, `<response status="error" code="403"><result><msg>Invalid Credential</msg></result></response>`)
			return
		}
		writeSuccess(w, "<key>"+esc(s.Key)+"</key>")
		return
	}

	key := r.Header.Get("X-PAN-KEY")
	if key == "" {
		key = r.Form.Get("key")
	}
	if key != s.Key {
		writeEnvelope(w, `<response status="error" code="403"><result><msg>Invalid credentials.</msg></result></response>`)
		return
	}

	switch typ {
	case "version":
		writeSuccess(w, "<sw-version>11.1.2</sw-version><model>PA-VM</model>")
	case "op":
		s.op(w, r.Form.Get("cmd"))
	case "log":
		if id := r.Form.Get("job-id"); id != "" {
			s.logResults(w, id)
			return
		}
		s.logQuery(w, r.Form.Get("query"), r.Form.Get("nlogs"))
	case "config":
		s.config(w, r.Form.Get("action"), r.Form.Get("xpath"), r.Form.Get("element"))
	case "commit":
		id := s.newJob(&job{kind: "commit", pending: s.CommitPolls, fail: s.FailCommits})
		writeSuccess(w, "<msg><line>Commit job enqueued with jobid "+id+"</line></msg><job>"+id+"</job>")
	default:
		writeError(w, "Unknown request type "+typ)
	}
}

func (s *Server) op(w http.ResponseWriter, cmd string) {
	if strings.Contains(cmd, "<system><info>") {
		writeSuccess(w, "<system><hostname>fw-test</hostname><sw-version>11.1.2</sw-version></system>")
		return
	}
	m := jobIDExpr.FindStringSubmatch(cmd)
	if m == nil {
		writeError(w, "Unsupported command")
		return
	}
	j, ok := s.jobs[m[1]]
	if !ok {
		writeError(w, "job "+m[1]+" not found")
		return
	}
	status, progress := "ACT", "50"
	switch {
	case j.pending > 0:
		j.pending--
	case j.fail:
		status, progress = "FAIL", "100"
	default:
		status, progress = "FIN", "100"
	}
	writeSuccess(w, "<job><id>"+esc(m[1])+"</id><type>"+j.kind+"</type><status>"+status+"</status><progress>"+progress+"</progress></job>")
}

func (s *Server) logQuery(w http.ResponseWriter, query, nlogs string) {
	var action string
	if m := actionExpr.FindStringSubmatch(query); m != nil {
		action = m[1]
	}
	var terms []string
	for _, m := range termExpr.FindAllStringSubmatch(query, -1) {
		terms = append(terms, strings.ToLower(m[1]))
	}
	limit, _ := strconv.Atoi(nlogs)

	var matched []map[string]string
	for _, e := range s.logs {
		if action != "" && e["action"] != action {
			continue
		}
		if !matchesAny(e, terms) {
			continue
		}
		matched = append(matched, e)
		if limit > 0 && len(matched) == limit {
			break
		}
	}

	if s.LogJobPolls > 0 || s.FailLogJobs {
		id := s.newJob(&job{kind: "log", pending: s.LogJobPolls, fail: s.FailLogJobs, records: matched})
		writeSuccess(w, "<msg><line>query job enqueued with jobid "+id+"</line></msg><job>"+id+"</job>")
		return
	}
	if len(matched) == 0 {
		writeSuccess(w, `<log><logs count="0" progress="100"/></log>`)
		return
	}
	writeSuccess(w, renderLogs(matched))
}

func (s *Server) logResults(w http.ResponseWriter, id string) {
	j, ok := s.jobs[id]
	if !ok || j.kind != "log" {
		writeError(w, "job "+id+" not found")
		return
	}
	writeSuccess(w, "<job><id>"+esc(id)+"</id><status>FIN</status></job>"+renderLogs(j.records))
}

func (s *Server) config(w http.ResponseWriter, action, xpath, element string) {
	switch action {
	case "get":
		s.configGet(w, xpath)
	case "edit":
		entry, ok := strings.CutSuffix(xpath, "/list")
		c, found := s.cats[entry]
		if !ok || !found {
			writeError(w, "No such node")
			return
		}
		var list struct {
			Members []string `xml:"member"`
		}
		if err := xml.Unmarshal([]byte(element), &list); err != nil {
			writeError(w, "Malformed element: "+err.Error())
			return
		}
		c.members = list.Members
		writeSuccess(w, "<msg>command succeeded</msg>")
	default:
		writeError(w, "Unsupported action "+action)
	}
}

func (s *Server) configGet(w http.ResponseWriter, xpath string) {
	switch {
	case xpath == SharedXPath:
		writeSuccess(w, s.renderCategories("shared"))
	case xpath == VsysXPath:
		var b strings.Builder
		b.WriteString("<vsys>")
		for _, v := range s.vsys {
			b.WriteString(`<entry name="` + esc(v) + `"><display-name>` + esc(v) + `</display-name></entry>`)
		}
		b.WriteString("</vsys>")
		writeSuccess(w, b.String())
	case vsysCatExpr.MatchString(xpath):
		writeSuccess(w, s.renderCategories(vsysCatExpr.FindStringSubmatch(xpath)[1]))
	case strings.HasSuffix(xpath, "/list"):
		c, ok := s.cats[strings.TrimSuffix(xpath, "/list")]
		if !ok {
			writeEnvelope(w, `<response status="success" code="7"><result total-count="0" count="0"/></response>`)
			return
		}
		writeSuccess(w, renderList(c.members))
	default:
		writeEnvelope(w, `<response status="success" code="7"><result total-count="0" count="0"/></response>`)
	}
}

func (s *Server) renderCategories(scope string) string {
	var names []string
	for _, c := range s.cats {
		if c.scope == scope {
			names = append(names, c.name)
		}
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("<custom-url-category>")
	for _, n := range names {
		c := s.cats[entryXPath(scope, n)]
		b.WriteString(`<entry name="` + esc(n) + `">` + renderList(c.members) + `<type>URL List</type></entry>`)
	}
	b.WriteString("</custom-url-category>")
	return b.String()
}

func (s *Server) newJob(j *job) string {
	s.nextJob++
	id := strconv.Itoa(s.nextJob)
	s.jobs[id] = j
	return id
}

func matchesAny(e map[string]string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, v := range e {
		lv := strings.ToLower(v)
		for _, t := range terms {
			if strings.Contains(lv, t) {
				return true
			}
		}
	}
	return false
}

func renderLogs(entries []map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<log><logs count="%d" progress="100">`, len(entries))
	for i, e := range entries {
		keys := make([]string, 0, len(e))
		for k := range e {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, `<entry logid="%d">`, 7000+i)
		for _, k := range keys {
			b.WriteString("<" + k + ">" + esc(e[k]) + "</" + k + ">")
		}
		b.WriteString("</entry>")
	}
	b.WriteString("</logs></log>")
	return b.String()
}

func renderList(members []string) string {
	var b strings.Builder
	b.WriteString("<list>")
	for _, m := range members {
		b.WriteString("<member>" + esc(m) + "</member>")
	}
	b.WriteString("</list>")
	return b.String()
}

func writeSuccess(w http.ResponseWriter, result string) {
	writeEnvelope(w, `<response status="success"><result>`+result+`</result></response>`)
}

func writeError(w http.ResponseWriter, msg string) {
	writeEnvelope(w, `<response status="error"><msg><line>`+esc(msg)+`</line></msg></response>`)
}

func writeEnvelope(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(body))
}

func esc(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

