// Package journal appends whitelist tickets to a JSON-lines file.
package journal

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
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/util"
)

// Entry is one journal line.
type Entry struct {
	ID          string    `json:"id"`
	RecordedAt  time.Time `json:"recorded_at"`
	Fingerprint string    `json:"fingerprint"`
	core.Ticket
}

// Options configures a Journal.
type Options struct {
	Gzip          bool
	FlushInterval time.Duration
	Logger        *zerolog.Logger
}

// Journal is a core.TicketRecorder backed by an append-only file.
type Journal struct {
	path string
	buf  *appendBuffer
	log  zerolog.Logger
	now  func() time.Time
}

var _ core.TicketRecorder = (*Journal)(nil)

// FileName is the journal file name used for host inside a directory.
func FileName(host string, gz bool) string {
	name := "tickets"
	if host != "" {
		name += "-" + util.SanitizeFilename(host)
	}
	name += ".jsonl"
	if gz {
		name += ".gz"
	}
	return name
}

// Resolve turns a configured path into a file path. A path that names an
// existing directory, or ends in a separator, gets FileName(host) appended.
func Resolve(path, host string, gz bool) string {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return filepath.Join(path, FileName(host, gz))
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, FileName(host, gz))
	}
	return path
}

// Open opens or creates the journal at path. The background flusher stops
// when ctx is done or Close is called.
func Open(ctx context.Context, path string, opt Options) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	log := *logger.Named("journal")
	if opt.Logger != nil {
		log = *opt.Logger
	}
	buf, err := newAppendBuffer(ctx, path, BufferOptions{
		FlushInterval: opt.FlushInterval,
		Compressed:    opt.Gzip,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Bool("gzip", opt.Gzip).Msg("journal opened")
	return &Journal{path: path, buf: buf, log: log, now: time.Now}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Record appends t as one JSON line.
func (j *Journal) Record(ctx context.Context, t core.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := Entry{
		ID:          uuid.NewString(),
		RecordedAt:  j.now().UTC(),
		Fingerprint: core.Fingerprint(t.Domains),
		Ticket:      t,
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := j.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	j.log.Debug().Str("id", e.ID).Str("ticket", t.TicketID).Msg("ticket recorded")
	return nil
}

// Flush forces buffered entries to disk.
func (j *Journal) Flush() error { return j.buf.Flush() }

// Close flushes and closes the journal.
func (j *Journal) Close() error { return j.buf.Close() }

// Metrics exposes the buffer counters.
func (j *Journal) Metrics() *BufferMetrics { return &j.buf.metrics }

// ReadAll decodes every entry in the journal at path. Gzip files are
// detected by their magic bytes.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip journal: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var out []Entry
	dec := json.NewDecoder(r)
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode journal entry %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
}
