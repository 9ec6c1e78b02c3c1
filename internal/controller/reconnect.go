package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"audiocontrold/internal/metrics"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBackoff     = 5 * time.Second
)

// ErrDisabled is reported once a Reconnector has used up its attempt budget.
var ErrDisabled = errors.New("reconnect attempts exhausted")

// ConnState is the state of the long-lived listen connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Listening
	PermanentlyDisabled
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case PermanentlyDisabled:
		return "disabled"
	}
	return "disconnected"
}

// Session is one established listen connection.
type Session interface {
	// Listen blocks until the connection breaks or ctx is done.
	Listen(ctx context.Context) error
	Close() error
}

// ConnectFunc opens a new Session.
type ConnectFunc func(ctx context.Context) (Session, error)

// Reconnector keeps one listen connection alive. Connect failures and broken
// sessions share one attempt budget; when it is used up the Reconnector
// parks in PermanentlyDisabled and makes no further attempts until
// ReportSuccess or Reset re-arms it.
type Reconnector struct {
	name        string
	logger      *zap.Logger
	clk         clock.Clock
	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	attempts int
	disabled bool
	state    ConnState
	onChange func(ConnState)

	rearm chan struct{}
}

// ReconnectOption configures a Reconnector.
type ReconnectOption func(*Reconnector)

func WithMaxAttempts(n int) ReconnectOption {
	return func(r *Reconnector) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) ReconnectOption {
	return func(r *Reconnector) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

func WithClock(c clock.Clock) ReconnectOption {
	return func(r *Reconnector) {
		if c != nil {
			r.clk = c
		}
	}
}

// WithStateHook registers fn to be called on every state transition. It runs
// without the Reconnector's lock held.
func WithStateHook(fn func(ConnState)) ReconnectOption {
	return func(r *Reconnector) { r.onChange = fn }
}

// NewReconnector creates a Reconnector for the named player.
func NewReconnector(name string, logger *zap.Logger, opts ...ReconnectOption) *Reconnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconnector{
		name:        name,
		logger:      logger.Named("reconnect"),
		clk:         clock.New(),
		maxAttempts: DefaultMaxReconnectAttempts,
		backoff:     DefaultReconnectBackoff,
		rearm:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconnector) setState(s ConnState) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	hook := r.onChange
	r.mu.Unlock()
	if changed && hook != nil {
		hook(s)
	}
}

func (r *Reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) Disabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled
}

// MaxAttempts is the configured attempt budget.
func (r *Reconnector) MaxAttempts() int { return r.maxAttempts }

// ReportSuccess resets the attempt counter after any successful connection,
// including short-lived command connections. A disabled Reconnector is
// re-armed.
func (r *Reconnector) ReportSuccess() {
	r.mu.Lock()
	wasDisabled := r.disabled
	r.attempts = 0
	r.disabled = false
	r.mu.Unlock()

	if wasDisabled {
		metrics.ControllerDisabled.WithLabelValues(r.name).Set(0)
		r.logger.Info("re-armed after successful connection", zap.String("player", r.name))
		select {
		case r.rearm <- struct{}{}:
		default:
		}
	}
}

// Reset is the explicit reconfiguration path; it behaves like ReportSuccess.
func (r *Reconnector) Reset() { r.ReportSuccess() }

// fail records one failed attempt and reports whether the budget is spent.
func (r *Reconnector) fail(err error) bool {
	metrics.ReconnectAttempts.WithLabelValues(r.name).Inc()

	r.mu.Lock()
	r.attempts++
	n := r.attempts
	if n >= r.maxAttempts {
		r.disabled = true
	}
	disabled := r.disabled
	r.mu.Unlock()

	if disabled {
		metrics.ControllerDisabled.WithLabelValues(r.name).Set(1)
		r.logger.Error("giving up on backend, reconnect disabled",
			zap.String("player", r.name), zap.Int("attempts", n), zap.Error(err))
		return true
	}
	r.logger.Warn("connection failed, backing off",
		zap.String("player", r.name), zap.Int("attempt", n), zap.Int("max", r.maxAttempts),
		zap.Duration("backoff", r.backoff), zap.Error(err))
	return false
}

func (r *Reconnector) sleep(ctx context.Context) bool {
	if r.backoff <= 0 {
		return ctx.Err() == nil
	}
	t := r.clk.Timer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run drives the state machine until ctx is done. It only returns on
// cancellation; while disabled it waits for a re-arm without dialling.
func (r *Reconnector) Run(ctx context.Context, connect ConnectFunc) error {
	defer r.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if r.Disabled() {
			r.setState(PermanentlyDisabled)
			select {
			case <-ctx.Done():
				return nil
			case <-r.rearm:
				continue
			}
		}

		r.setState(Connecting)
		sess, err := connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !r.fail(err) && !r.sleep(ctx) {
				return nil
			}
			continue
		}

		r.ReportSuccess()
		r.setState(Listening)
		r.logger.Info("listening", zap.String("player", r.name))

		err = sess.Listen(ctx)
		_ = sess.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("listener closed")
		}
		r.setState(Connecting)
		if !r.fail(err) && !r.sleep(ctx) {
			return nil
		}
	}
} // func Run
