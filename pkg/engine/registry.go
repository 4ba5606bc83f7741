package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// Factory builds the collaborators for one installation's engine. The bot
// uses it to hand each engine its own org-scoped GitHub client.
type Factory func(ctx context.Context, inst types.Installation) (Deps, error)

// Registry is the authoritative map from installation login to running
// engine. At most one engine exists per login at any moment.
type Registry struct {
	factory     Factory
	metrics     *Metrics
	engines     map[string]*Engine
	localOffset func() int
	lastOffset  int
	offsetKnown bool
	mu          sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, metrics *Metrics) *Registry {
	return &Registry{
		factory:     factory,
		metrics:     metrics,
		engines:     make(map[string]*Engine),
		localOffset: currentUTCOffset,
	}
}

// currentUTCOffset reports the process-local UTC offset in minutes.
func currentUTCOffset() int {
	_, seconds := time.Now().Zone()
	return seconds / 60
}

// Add constructs and starts an engine for the installation. A login that is
// already running (or mid-construction) is a no-op. Construction happens
// outside the lock; the key is reserved first so no second engine can race in.
func (r *Registry) Add(ctx context.Context, inst types.Installation) error {
	login := types.NormalizeLogin(inst.Login)

	r.mu.Lock()
	if _, exists := r.engines[login]; exists {
		r.mu.Unlock()
		return nil
	}
	r.engines[login] = nil // reserve the key while constructing
	r.mu.Unlock()

	eng, err := r.build(ctx, inst)
	if err != nil {
		r.mu.Lock()
		delete(r.engines, login)
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if _, reserved := r.engines[login]; !reserved {
		// Removed while we were constructing.
		r.mu.Unlock()
		eng.Teardown(ctx)
		return nil
	}
	r.engines[login] = eng
	r.mu.Unlock()

	slog.Info("Installation added", "component", "registry", "installation", login, "kind", inst.Kind)
	return nil
}

func (r *Registry) build(ctx context.Context, inst types.Installation) (*Engine, error) {
	deps, err := r.factory(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for %s: %w", inst.Login, err)
	}
	if deps.Metrics == nil {
		deps.Metrics = r.metrics
	}
	eng := New(inst, deps)
	if err := eng.Start(ctx); err != nil {
		eng.Teardown(ctx)
		return nil, err
	}
	return eng, nil
}

// Remove tears the installation's engine down synchronously and evicts it.
// Unknown logins are a no-op.
func (r *Registry) Remove(ctx context.Context, login string) {
	login = types.NormalizeLogin(login)

	r.mu.Lock()
	eng, exists := r.engines[login]
	delete(r.engines, login)
	r.mu.Unlock()

	if !exists {
		return
	}
	if eng != nil {
		eng.Teardown(ctx)
	}
	slog.Info("Installation removed", "component", "registry", "installation", login)
}

// Engine routes an inbound event to the installation's engine, or nil when
// none is running.
func (r *Registry) Engine(login string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[types.NormalizeLogin(login)]
}

// Logins returns the installations currently running.
func (r *Registry) Logins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	logins := make([]string, 0, len(r.engines))
	for login, eng := range r.engines {
		if eng != nil {
			logins = append(logins, login)
		}
	}
	return logins
}

// Count reports the number of running engines.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, eng := range r.engines {
		if eng != nil {
			n++
		}
	}
	return n
}

// Sync reconciles the running set against the desired installations: new
// installations get engines, vanished ones are torn down. Drives the bot's
// polling loop.
func (r *Registry) Sync(ctx context.Context, installations []types.Installation) {
	desired := make(map[string]bool, len(installations))
	for _, inst := range installations {
		desired[types.NormalizeLogin(inst.Login)] = true
	}

	for _, login := range r.Logins() {
		if !desired[login] {
			r.Remove(ctx, login)
		}
	}

	for _, inst := range installations {
		login := types.NormalizeLogin(inst.Login)
		if eng := r.Engine(login); eng != nil {
			if err := eng.ResyncMembers(ctx); err != nil {
				slog.Warn("Could not resync members", "component", "registry",
					"installation", login, "error", err)
			}
			continue
		}
		if err := r.Add(ctx, inst); err != nil {
			slog.Error("Could not add installation", "component", "registry",
				"installation", inst.Login, "error", err)
		}
	}

	r.rebuildOnOffsetShift()

	if r.metrics != nil {
		r.metrics.MarkSync(time.Now())
	}
}

// rebuildOnOffsetShift recreates every engine's triggers when the
// process-local UTC offset has moved since the previous sync, so wall-clock
// conversions survive daylight-saving transitions.
func (r *Registry) rebuildOnOffsetShift() {
	offset := r.localOffset()

	r.mu.Lock()
	shifted := r.offsetKnown && offset != r.lastOffset
	r.lastOffset = offset
	r.offsetKnown = true
	r.mu.Unlock()
	if !shifted {
		return
	}

	slog.Info("Local UTC offset shifted, rebuilding all triggers", "component", "registry", "offset_min", offset)
	for _, login := range r.Logins() {
		eng := r.Engine(login)
		if eng == nil {
			continue
		}
		if err := eng.RebuildSchedules(); err != nil {
			slog.Warn("Could not rebuild triggers", "component", "registry",
				"installation", login, "error", err)
		}
	}
}

// Shutdown tears down every engine. Used on process exit so pending config
// writes flush.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, login := range r.Logins() {
		r.Remove(ctx, login)
	}
}
