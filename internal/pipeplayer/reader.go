package pipeplayer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	DefaultReopenDelay   = 100 * time.Millisecond
	DefaultRetryInterval = time.Second
	maxLineSize          = 1 << 20
)

// Reader follows a metadata pipe or file line by line. At EOF it closes the
// file and opens it again, so writers may come and go.
type Reader struct {
	path   string
	logger *zap.Logger
	clk    clock.Clock
	handle func(line []byte)

	ReopenDelay   time.Duration
	RetryInterval time.Duration
}

// NewReader creates a Reader that passes every non-blank line to handle.
func NewReader(path string, handle func([]byte), logger *zap.Logger, clk clock.Clock) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Reader{
		path:          path,
		logger:        logger,
		clk:           clk,
		handle:        handle,
		ReopenDelay:   DefaultReopenDelay,
		RetryInterval: DefaultRetryInterval,
	}
}

// Run reads until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if err := r.waitForPath(ctx); err != nil {
			return err
		}
		f, err := r.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("open metadata pipe", zap.String("path", r.path), zap.Error(err))
		} else {
			if err := r.readLines(ctx, f); err != nil && ctx.Err() == nil {
				r.logger.Warn("read metadata pipe", zap.String("path", r.path), zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clk.After(r.ReopenDelay):
		}
	}
} // func Run

// open runs the blocking open of a FIFO off the calling goroutine so a
// cancelled ctx is not stuck behind a missing writer.
func (r *Reader) open(ctx context.Context) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(r.path)
		ch <- result{f, err}
	}()

	select {
	case res := <-ch:
		return res.f, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.f != nil {
				res.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// readLines scans f until EOF. Cancelling ctx closes f, which unblocks a
// pending read on a pipe.
func (r *Reader) readLines(ctx context.Context, f *os.File) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		f.Close()
	}()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		r.handle(line)
	}
	return sc.Err()
}

// waitForPath returns once the path exists. It watches the parent directory
// and also polls, since some filesystems never deliver create events.
func (r *Reader) waitForPath(ctx context.Context) error {
	if exists(r.path) {
		return nil
	}
	r.logger.Info("waiting for metadata pipe", zap.String("path", r.path))

	var events <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		r.logger.Debug("fsnotify unavailable, polling", zap.Error(err))
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(r.path)); err != nil {
			r.logger.Debug("cannot watch parent directory, polling", zap.Error(err))
		} else {
			events = w.Events
		}
	}

	tick := r.clk.Ticker(r.RetryInterval)
	defer tick.Stop()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return nil
			}
		case <-tick.C:
			if exists(r.path) {
				return nil
			}
		}
	}
} // func waitForPath

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// writeControl writes one command line to the control pipe. A FIFO without a
// reader fails immediately instead of blocking.
func writeControl(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|nonblock, 0)
	if err != nil {
		return fmt.Errorf("open control pipe: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write control pipe: %w", err)
	}
	return nil
}
