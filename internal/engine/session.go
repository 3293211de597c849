package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
)

// State is a reconciliation-cycle phase. Every mutation walks
// Planned -> Submitting -> {Confirmed | Failed} -> Resyncing -> Done; a plan
// failure short-circuits straight from Failed to Done with zero store ops.
type State string

// Cycle states.
const (
	StatePlanned    State = "planned"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
	StateResyncing  State = "resyncing"
	StateDone       State = "done"
)

// Update is one state transition on the mutation-status stream. Terminal
// updates (StateDone) carry the cycle outcome: Err is nil on full success,
// a plan error, a *PartialFailureError, or a *ResyncError. AppliedKeys and
// FailedKeys cover the submitted store operations; Stale reports whether
// the session's tree is advisory after this cycle.
type Update struct {
	MutationID  string
	Kind        MutationKind
	Path        string
	State       State
	Err         error
	AppliedKeys []string
	FailedKeys  []string
	Stale       bool
	Time        time.Time
}

// Terminal reports whether this update ends its cycle.
func (u Update) Terminal() bool {
	return u.State == StateDone
}

// PartialFailureError reports a multi-key mutation where some store calls
// failed. The succeeded operations are neither retried nor rolled back: the
// store has no transaction primitive, so the resync that follows is the
// only recovery mechanism.
type PartialFailureError struct {
	FailedKeys []string
	Errs       []error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("engine: %d store operation(s) failed: %s",
		len(e.FailedKeys), strings.Join(e.FailedKeys, ", "))
}

// Unwrap exposes the underlying store errors to errors.Is/As.
func (e *PartialFailureError) Unwrap() []error {
	return e.Errs
}

// ResyncError reports a failed post-mutation listing fetch. The optimistic
// tree is kept and marked stale; the next successful refresh clears it.
type ResyncError struct {
	Err error
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("engine: resync failed: %v", e.Err)
}

func (e *ResyncError) Unwrap() error {
	return e.Err
}

// updateBuffer bounds the status stream. Slow consumers never block the
// session worker; overflow drops the update with a warning.
const updateBuffer = 64

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithAllowedContentTypes restricts uploads to the given content types.
// Empty allows everything.
func WithAllowedContentTypes(types []string) Option {
	return func(s *Session) { s.allowedTypes = types }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// request is one queued unit of session work: a mutation cycle, or a bare
// refresh when mutation.Kind is empty.
type request struct {
	id       string
	mutation Mutation
	refresh  bool
	result   chan Update // buffered(1); terminal update, refresh outcome
}

// Session owns one scope's tree and serializes every reconciliation cycle
// against it. Requests queue FIFO; at most one cycle is in flight. Disjoint
// scopes never share a session, so they never interact.
type Session struct {
	store        objstore.Store
	scope        keyspace.Scope
	logger       *slog.Logger
	allowedTypes []string
	now          func() time.Time
	planner      *Planner

	mu    sync.RWMutex
	tree  *tree.Tree
	stale bool

	requests chan request
	updates  chan Update
	quit     chan struct{}
	finished chan struct{}
	closing  sync.Once

	refreshGroup singleflight.Group
}

// New creates a Session for one scope and starts its worker. The tree
// begins empty; call Refresh to load the authoritative listing.
func New(store objstore.Store, scope keyspace.Scope, opts ...Option) *Session {
	s := &Session{
		store:    store,
		scope:    scope,
		logger:   slog.Default(),
		now:      time.Now,
		tree:     tree.New(scope),
		requests: make(chan request),
		updates:  make(chan Update, updateBuffer),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.planner = NewPlanner(s.logger, s.allowedTypes)
	s.planner.now = s.now

	go s.worker()

	return s
}

// Close stops the worker after the in-flight cycle completes and closes the
// update stream. Safe to call more than once.
func (s *Session) Close() {
	s.closing.Do(func() {
		close(s.quit)
		<-s.finished
		close(s.updates)
	})
}

// Scope returns the session's key scope.
func (s *Session) Scope() keyspace.Scope {
	return s.scope
}

// Tree returns the current tree snapshot and whether it is stale. The
// snapshot is replaced, never mutated, so readers may hold it freely.
func (s *Session) Tree() (*tree.Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tree, s.stale
}

// Updates returns the mutation-status stream. All cycle transitions of all
// mutations appear here in order; the channel closes when the session does.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Request enqueues a mutation and returns its ID immediately. The outcome
// arrives on the update stream. Returns an error only when the session is
// closed.
func (s *Session) Request(m Mutation) (string, error) {
	id, _, err := s.enqueue(m)
	return id, err
}

// Run enqueues a mutation and waits for its terminal update, returning the
// cycle outcome directly (plan errors such as ErrNotFound or
// ErrNameConflict included). Abandoning the wait via ctx cancels only the
// wait: submitted store operations always run to completion and the worker
// still processes their results.
func (s *Session) Run(ctx context.Context, m Mutation) (Update, error) {
	_, result, err := s.enqueue(m)
	if err != nil {
		return Update{}, err
	}

	select {
	case update := <-result:
		return update, update.Err
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

// Refresh fetches a fresh listing and swaps in the rebuilt tree, clearing
// staleness. Concurrent refreshes coalesce into one; a refresh queues
// behind any in-flight mutation cycle.
func (s *Session) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		req := request{refresh: true, result: make(chan Update, 1)}

		select {
		case s.requests <- req:
		case <-s.quit:
			return nil, fmt.Errorf("engine: session closed")
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case update := <-req.result:
			return nil, update.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	return err
}

func (s *Session) enqueue(m Mutation) (string, chan Update, error) {
	req := request{
		id:       uuid.New().String(),
		mutation: m,
		result:   make(chan Update, 1),
	}

	select {
	case s.requests <- req:
		return req.id, req.result, nil
	case <-s.quit:
		return "", nil, fmt.Errorf("engine: session closed")
	}
}

// worker serializes all cycles for this scope. Store operations run with a
// background context: caller cancellation is local-only and never aborts a
// submitted write or delete.
func (s *Session) worker() {
	defer close(s.finished)

	for {
		select {
		case req := <-s.requests:
			var terminal Update
			if req.refresh {
				terminal = s.runRefresh(context.Background())
			} else {
				terminal = s.runCycle(context.Background(), req)
			}

			req.result <- terminal
		case <-s.quit:
			return
		}
	}
}

// runRefresh rebuilds the authoritative tree from a fresh listing.
func (s *Session) runRefresh(ctx context.Context) Update {
	listing, err := s.store.List(ctx, s.scope.Prefix())
	if err != nil {
		s.mu.Lock()
		s.stale = true
		stale := s.stale
		s.mu.Unlock()

		s.logger.Warn("refresh failed, tree kept stale", "scope", s.scope.String(), "error", err)

		return Update{State: StateDone, Err: &ResyncError{Err: err}, Stale: stale, Time: s.now()}
	}

	rebuilt, warnings := tree.Build(s.scope, listing)
	s.logWarnings(warnings)

	s.mu.Lock()
	s.tree = rebuilt
	s.stale = false
	s.mu.Unlock()

	s.logger.Debug("tree refreshed", "scope", s.scope.String(), "records", len(listing), "warnings", len(warnings))

	return Update{State: StateDone, Time: s.now()}
}

// runCycle drives one mutation through the full state machine and returns
// its terminal update.
func (s *Session) runCycle(ctx context.Context, req request) Update {
	base := Update{MutationID: req.id, Kind: req.mutation.Kind, Path: req.mutation.Path()}

	// Plan against the current tree. A plan failure produces zero store ops
	// and is surfaced synchronously to Run callers via the terminal update.
	s.mu.RLock()
	current := s.tree
	s.mu.RUnlock()

	plan, err := s.planner.Plan(current, req.mutation)
	if err != nil {
		s.publish(base, StateFailed, err, nil, nil)
		return s.finish(base, err, nil, nil)
	}

	// Optimistic update: readers see the change before the store confirms.
	// Apply works on a clone, so the previous snapshot stays valid.
	optimistic, applyErr := current.Apply(plan.Delta)
	if applyErr != nil {
		// The delta was planned against this very tree; failure to apply is
		// a programming error, not a user condition.
		s.logger.Error("optimistic apply failed", "mutation", req.mutation.String(), "error", applyErr)
		s.publish(base, StateFailed, applyErr, nil, nil)

		return s.finish(base, applyErr, nil, nil)
	}

	s.mu.Lock()
	s.tree = optimistic
	s.mu.Unlock()

	s.publish(base, StatePlanned, nil, nil, nil)

	// Submit. Multi-op mutations are not atomic: partial completion is
	// tolerated, failed keys are reported exactly, successes stay.
	s.publish(base, StateSubmitting, nil, nil, nil)

	applied, failed, errs := s.submit(ctx, plan.StoreOps)

	var outcome error
	if len(failed) > 0 {
		outcome = &PartialFailureError{FailedKeys: failed, Errs: errs}
		s.publish(base, StateFailed, outcome, applied, failed)
	} else {
		s.publish(base, StateConfirmed, nil, applied, nil)
	}

	// Unconditional resync: the authoritative listing replaces optimistic
	// state whether submission succeeded or not.
	s.publish(base, StateResyncing, outcome, applied, failed)

	resync := s.runRefresh(ctx)
	if resync.Err != nil && outcome == nil {
		outcome = resync.Err
	}

	return s.finish(base, outcome, applied, failed)
}

// submit executes store ops sequentially, collecting per-key outcomes. A
// failure does not stop later ops: every key gets its chance, and the
// failed set reported is exact.
func (s *Session) submit(ctx context.Context, ops []StoreOp) (applied, failed []string, errs []error) {
	for _, op := range ops {
		var err error

		switch op.Kind {
		case OpPut:
			err = s.store.Put(ctx, op.Key, op.Payload, op.ContentType, op.Meta)
		case OpDelete:
			err = s.store.Delete(ctx, op.Key)
		default:
			err = fmt.Errorf("engine: unknown store op kind %q", op.Kind)
		}

		if err != nil {
			s.logger.Warn("store operation failed", "op", string(op.Kind), "key", op.Key, "error", err)
			failed = append(failed, op.Key)
			errs = append(errs, err)

			continue
		}

		applied = append(applied, op.Key)
	}

	return applied, failed, errs
}

// finish emits and returns the terminal update.
func (s *Session) finish(base Update, err error, applied, failed []string) Update {
	s.mu.RLock()
	stale := s.stale
	s.mu.RUnlock()

	terminal := base
	terminal.State = StateDone
	terminal.Err = err
	terminal.AppliedKeys = applied
	terminal.FailedKeys = failed
	terminal.Stale = stale
	terminal.Time = s.now()

	s.emit(terminal)

	return terminal
}

func (s *Session) publish(base Update, state State, err error, applied, failed []string) {
	update := base
	update.State = state
	update.Err = err
	update.AppliedKeys = applied
	update.FailedKeys = failed
	update.Time = s.now()

	s.mu.RLock()
	update.Stale = s.stale
	s.mu.RUnlock()

	s.emit(update)
}

func (s *Session) emit(update Update) {
	select {
	case s.updates <- update:
	default:
		s.logger.Warn("update stream full, dropping update",
			"mutation_id", update.MutationID, "state", string(update.State))
	}
}

func (s *Session) logWarnings(warnings []tree.Warning) {
	for _, w := range warnings {
		s.logger.Warn("listing record skipped", "key", w.Key, "error", w.Err)
	}
}
