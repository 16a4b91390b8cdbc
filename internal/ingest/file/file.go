// Package file implements the FILE ingestion driver (C8): tails files
// under a directory matching a glob pattern, parsing appended lines
// through the parser chain and enqueueing the results.
package file

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grepwise/grepwise/internal/ingest"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/parser"
)

// fileState tracks how far a tracked file has been read, and its
// inode, so a truncation or file replacement is detected and the
// offset reset to zero, per spec §4.7.
type fileState struct {
	offset int64
	inode  uint64
}

// Driver tails every file under cfg.DirectoryPath matching
// cfg.FilePattern, once every cfg.ScanIntervalSeconds.
type Driver struct {
	cfg   model.SourceConfig
	sink  ingest.Sink
	chain *parser.Chain
	log   *obslog.Component

	mu     sync.Mutex
	states map[string]fileState

	stopCh chan struct{}
	doneCh chan struct{}
}

// Start constructs and launches a Driver for cfg, satisfying
// source.StartFunc. cfg.Type must be SourceTypeFile.
func Start(ctx context.Context, cfg model.SourceConfig, sink ingest.Sink, chain *parser.Chain, log *obslog.Component) *Driver {
	d := &Driver{
		cfg:    cfg,
		sink:   sink,
		chain:  chain,
		log:    log,
		states: make(map[string]fileState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	interval := time.Duration(cfg.ScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		d.scan(ctx)
		for {
			select {
			case <-ticker.C:
				d.scan(ctx)
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return d
}

// Stop halts the scan loop and waits for it to exit.
func (d *Driver) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Driver) scan(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(d.cfg.DirectoryPath, d.cfg.FilePattern))
	if err != nil {
		if d.log != nil {
			d.log.Error(ctx, "file driver glob failed", err, map[string]interface{}{"source_id": d.cfg.ID})
		}
		return
	}
	for _, path := range matches {
		d.tail(ctx, path)
	}
}

func (d *Driver) tail(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	inode := inodeOf(info)

	d.mu.Lock()
	state, known := d.states[path]
	d.mu.Unlock()
	if !known {
		state = fileState{}
	} else if state.inode != inode || info.Size() < state.offset {
		state = fileState{} // truncated or replaced: resume from zero
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(state.offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	var lastOffset = state.offset
	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 && readErr == nil {
			d.dispatch(ctx, trimNewline(line), path)
			lastOffset += int64(len(line))
		} else if len(line) > 0 && readErr == io.EOF {
			// Partial final line with no trailing newline yet; leave it
			// for the next scan rather than consuming a half-written line.
			break
		} else {
			break
		}
	}

	d.mu.Lock()
	d.states[path] = fileState{offset: lastOffset, inode: inode}
	d.mu.Unlock()
}

func (d *Driver) dispatch(ctx context.Context, line, path string) {
	rec := d.chain.Parse(line, path, time.Now().UnixMilli())
	d.sink.Add(ctx, rec)
}

func trimNewline(line string) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
