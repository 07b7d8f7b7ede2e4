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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize is the write buffer in front of the journal file.
	DefaultBufferSize = 32 * 1024

	// DefaultFlushInterval is how often buffered lines reach the disk.
	DefaultFlushInterval = 5 * time.Second
)

// ErrBufferClosed is returned when writing to a closed buffer.
var ErrBufferClosed = errors.New("journal buffer closed")

// BufferMetrics counts buffer activity.
type BufferMetrics struct {
	BytesWritten  atomic.Int64
	WriteCount    atomic.Int64
	FlushCount    atomic.Int64
	ErrorCount    atomic.Int64
	LastFlushTime atomic.Int64 // Unix nanoseconds
}

// BufferOptions configures an appendBuffer.
type BufferOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	Compressed    bool
}

// appendBuffer appends to a file through a bufio.Writer, optionally gzip
// compressed, and flushes it in the background. Every gzip session appends a
// new member, which gzip readers concatenate.
type appendBuffer struct {
	file      *os.File
	gzWriter  *gzip.Writer
	bufWriter *bufio.Writer
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool

	cancel context.CancelFunc
	done   chan struct{}

	metrics BufferMetrics
}

func newAppendBuffer(ctx context.Context, path string, opt BufferOptions, log zerolog.Logger) (*appendBuffer, error) {
	if opt.BufferSize <= 0 {
		opt.BufferSize = DefaultBufferSize
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = DefaultFlushInterval
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	ab := &appendBuffer{file: file, log: log, done: make(chan struct{})}
	var w io.Writer = file
	if opt.Compressed {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		ab.gzWriter = gzw
		w = gzw
	}
	ab.bufWriter = bufio.NewWriterSize(w, opt.BufferSize)

	bctx, cancel := context.WithCancel(ctx)
	ab.cancel = cancel
	go ab.flushLoop(bctx, opt.FlushInterval)
	return ab, nil
}

func (ab *appendBuffer) flushLoop(ctx context.Context, every time.Duration) {
	defer close(ab.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ab.Flush(); err != nil && !errors.Is(err, ErrBufferClosed) {
				ab.log.Warn().Err(err).Msg("background flush failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Write buffers p as one unit.
func (ab *appendBuffer) Write(p []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return 0, ErrBufferClosed
	}
	n, err := ab.bufWriter.Write(p)
	if err != nil {
		ab.metrics.ErrorCount.Add(1)
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}
	ab.metrics.BytesWritten.Add(int64(n))
	ab.metrics.WriteCount.Add(1)
	return n, nil
}

// Flush pushes buffered data through gzip to the file and syncs it.
func (ab *appendBuffer) Flush() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return ErrBufferClosed
	}
	return ab.flushLocked()
}

func (ab *appendBuffer) flushLocked() error {
	if ab.bufWriter.Buffered() == 0 {
		return nil
	}
	if err := ab.bufWriter.Flush(); err != nil {
		ab.metrics.ErrorCount.Add(1)
		return err
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Flush(); err != nil {
			ab.metrics.ErrorCount.Add(1)
			return err
		}
	}
	if err := ab.file.Sync(); err != nil {
		ab.metrics.ErrorCount.Add(1)
		return err
	}
	ab.metrics.FlushCount.Add(1)
	ab.metrics.LastFlushTime.Store(time.Now().UnixNano())
	return nil
}

// Close stops the flusher, flushes and closes the file.
func (ab *appendBuffer) Close() error {
	ab.mu.Lock()
	if ab.closed {
		ab.mu.Unlock()
		return nil
	}
	ab.closed = true
	ab.mu.Unlock()

	ab.cancel()
	<-ab.done

	var errs []error
	if err := ab.bufWriter.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush buffer on close: %w", err))
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close gzip writer: %w", err))
		}
	}
	if err := ab.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close file: %w", err))
	}
	return errors.Join(errs...)
}
