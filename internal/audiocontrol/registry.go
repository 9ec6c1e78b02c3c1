// Package audiocontrol keeps the set of player controllers, tracks which one
// is active and routes commands to them. Plugins react to bus events on top
// of it.
package audiocontrol

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/player"
)

// ActiveAlias names the active player wherever a player name is accepted.
const ActiveAlias = "active"

var ErrNoPlayers = errors.New("no players registered")

// Registry is safe for concurrent use. Controllers are never called with the
// registry lock held.
type Registry struct {
	pub    controller.Publisher
	logger *zap.Logger

	mu      sync.RWMutex
	players []controller.Controller
	active  int
}

// New creates an empty registry. ActivePlayerChanged is published on pub.
func New(pub controller.Publisher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{pub: pub, logger: logger.Named("players"), active: -1}
}

// Add registers c. The first controller added becomes the active one.
func (r *Registry) Add(c controller.Controller) int {
	r.mu.Lock()
	r.players = append(r.players, c)
	idx := len(r.players) - 1
	if r.active < 0 {
		r.active = idx
	}
	r.mu.Unlock()

	r.logger.Info("player added", zap.String("name", c.Name()), zap.String("id", c.ID()))
	return idx
}

// Players returns a snapshot in registration order.
func (r *Registry) Players() []controller.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]controller.Controller(nil), r.players...)
}

func matches(c controller.Controller, name string) bool {
	return strings.EqualFold(c.Name(), name) || strings.EqualFold(c.ID(), name)
}

// ByName finds a player by name or id, ignoring case. "active" resolves to
// the active player.
func (r *Registry) ByName(name string) (controller.Controller, bool) {
	if strings.EqualFold(name, ActiveAlias) {
		return r.Active()
	}
	return lo.Find(r.Players(), func(c controller.Controller) bool { return matches(c, name) })
}

func (r *Registry) Active() (controller.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active < 0 || r.active >= len(r.players) {
		return nil, false
	}
	return r.players[r.active], true
}

// IsActive reports whether id is the active player's id.
func (r *Registry) IsActive(id string) bool {
	c, ok := r.Active()
	return ok && c.ID() == id
}

// SetActive makes the named player active. Switching publishes
// ActivePlayerChanged; selecting the player that is already active does not.
func (r *Registry) SetActive(name string) bool {
	r.mu.Lock()
	_, idx, found := lo.FindIndexOf(r.players, func(c controller.Controller) bool { return matches(c, name) })
	if !found {
		r.mu.Unlock()
		r.logger.Debug("unknown player, active unchanged", zap.String("name", name))
		return false
	}
	if idx == r.active {
		r.mu.Unlock()
		return true
	}
	r.active = idx
	c := r.players[idx]
	r.mu.Unlock()

	r.logger.Info("active player changed", zap.String("name", c.Name()), zap.String("id", c.ID()))
	if r.pub != nil {
		r.pub.Publish(player.ActivePlayerChanged{
			Source:   player.Source{PlayerName: c.Name(), PlayerID: c.ID()},
			PlayerID: c.ID(),
		})
	}
	return true
} // func SetActive

// SendCommand targets the active player.
func (r *Registry) SendCommand(ctx context.Context, cmd player.Command) bool {
	c, ok := r.Active()
	if !ok {
		r.logger.Warn("no active player", zap.Stringer("command", cmd))
		return false
	}
	return c.SendCommand(ctx, cmd)
}

// SendCommandTo targets one player by name, id or "active".
func (r *Registry) SendCommandTo(ctx context.Context, name string, cmd player.Command) bool {
	c, ok := r.ByName(name)
	if !ok {
		r.logger.Warn("unknown player", zap.String("name", name), zap.Stringer("command", cmd))
		return false
	}
	return c.SendCommand(ctx, cmd)
}

// SendCommandToInactive sends cmd to every player but the active one and
// returns how many accepted it.
func (r *Registry) SendCommandToInactive(ctx context.Context, cmd player.Command) int {
	active, hasActive := r.Active()
	n := 0
	for _, c := range r.Players() {
		if hasActive && c == active {
			continue
		}
		if c.SendCommand(ctx, cmd) {
			n++
		}
	}
	return n
}

// BulkResult counts the outcome of PauseAll or StopAll.
type BulkResult struct {
	Succeeded int
	Skipped   int
}

// PauseAll pauses every player except the one matching except, falling back
// to stop on players that cannot pause.
func (r *Registry) PauseAll(ctx context.Context, except string) BulkResult {
	return r.bulk(ctx, except, player.CapPause, player.Pause(), player.CapStop, player.Stop())
}

// StopAll stops every player except the one matching except, falling back to
// pause on players that cannot stop.
func (r *Registry) StopAll(ctx context.Context, except string) BulkResult {
	return r.bulk(ctx, except, player.CapStop, player.Stop(), player.CapPause, player.Pause())
}

func (r *Registry) bulk(ctx context.Context, except string,
	primary player.Capability, primaryCmd player.Command,
	fallback player.Capability, fallbackCmd player.Command,
) BulkResult {
	var res BulkResult
	for _, c := range r.Players() {
		if except != "" && matches(c, except) {
			res.Skipped++
			continue
		}
		caps := c.Capabilities()
		var ok bool
		switch {
		case caps.Has(primary):
			ok = c.SendCommand(ctx, primaryCmd)
		case caps.Has(fallback):
			ok = c.SendCommand(ctx, fallbackCmd)
		}
		if ok {
			res.Succeeded++
		}
	}
	return res
} // func bulk

// Start starts every controller. A controller that fails to start is logged
// and left registered; Start only fails when none started.
func (r *Registry) Start(ctx context.Context) error {
	players := r.Players()
	if len(players) == 0 {
		return ErrNoPlayers
	}
	var errs []error
	for _, c := range players {
		if err := c.Start(ctx); err != nil {
			r.logger.Error("player failed to start", zap.String("name", c.Name()), zap.String("id", c.ID()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == len(players) {
		return errors.Join(errs...)
	}
	return nil
}

// Stop stops every controller and joins their goroutines.
func (r *Registry) Stop() error {
	var errs []error
	for _, c := range r.Players() {
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
