// Package edit holds an entity draft and its last persisted original,
// validates the draft in the background on every change, and persists it on
// an explicit save.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/erazemk/boxanizer/internal/model"
)

// Status is the validation lifecycle of the current draft.
type Status string

// Validation states.
const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
	StatusUnknown    Status = "unknown"
)

// Entity is a persisted value that can be compared by content and re-keyed.
type Entity[T any] interface {
	Equal(other T) bool
	Identity() int64
	WithIdentity(id int64) T
}

// Store is the part of the entity store a session needs. FindByID returns nil
// when the entity does not exist.
type Store[T any] interface {
	FindByID(ctx context.Context, id int64) (*T, error)
	Upsert(ctx context.Context, entity T) (T, error)
}

// BoxStore can both persist boxes and check codes for collisions.
type BoxStore interface {
	Store[model.Box]
	CodeLookup
}

// Options configure a Session.
type Options[T any] struct {
	Kind     string // "box" or "item", used in logs, notices and metrics
	Store    Store[T]
	Validate ValidateFunc[T]
	New      func() T
	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger

	// Name, when set, returns the draft's name so a blank one is flagged as
	// soon as the draft changes instead of when validation settles.
	Name func(T) string
}

// State is a point-in-time snapshot of a session.
type State[T any] struct {
	Loaded    bool            `json:"loaded"`
	Draft     T               `json:"draft"`
	Original  T               `json:"original"`
	Dirty     bool            `json:"dirty"`
	CodeError model.CodeError `json:"code_error"`
	NameError bool            `json:"name_error"`
	Status    Status          `json:"status"`
	Savable   bool            `json:"savable"`
	Saving    bool            `json:"saving"`
}

// Session is a single edit of one entity. It is safe for concurrent use.
type Session[T Entity[T]] struct {
	kind     string
	store    Store[T]
	validate ValidateFunc[T]
	newFn    func() T
	name     func(T) string
	notifier Notifier
	observer Observer
	log      *slog.Logger

	base     context.Context
	stopBase context.CancelFunc

	mu          sync.Mutex
	loading     chan struct{} // closed when the in-flight Load returns
	initialized bool
	closed      bool
	saving      bool
	draft       T
	original    T
	result      Result
	status      Status
	current     *validation
}

// validation is one background check. cancel is always called under the
// session mutex before the task is replaced.
type validation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an unloaded session.
func New[T Entity[T]](opts Options[T]) *Session[T] {
	s := &Session[T]{
		kind:     opts.Kind,
		store:    opts.Store,
		validate: opts.Validate,
		newFn:    opts.New,
		name:     opts.Name,
		notifier: opts.Notifier,
		observer: opts.Observer,
		log:      opts.Logger,
		result:   Clean,
		status:   StatusIdle,
	}
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("kind", s.kind)
	s.base, s.stopBase = context.WithCancel(context.Background())
	return s
}

// NewBoxSession creates a session editing a box.
func NewBoxSession(boxes BoxStore, notifier Notifier, observer Observer) *Session[model.Box] {
	return New(Options[model.Box]{
		Kind:     "box",
		Store:    boxes,
		Validate: BoxValidator(boxes),
		New:      model.NewBox,
		Name:     func(b model.Box) string { return b.Name },
		Notifier: notifier,
		Observer: observer,
	})
}

// NewItemSession creates a session editing an item.
func NewItemSession(items Store[model.Item], notifier Notifier, observer Observer) *Session[model.Item] {
	return New(Options[model.Item]{
		Kind:     "item",
		Store:    items,
		Validate: ValidateItem,
		New:      model.NewItem,
		Name:     func(it model.Item) string { return it.Name },
		Notifier: notifier,
		Observer: observer,
	})
}

// Kind returns the entity kind the session edits.
func (s *Session[T]) Kind() string {
	return s.kind
}

// Load fetches the entity with id, or builds an empty one for model.NewID,
// and starts the initial validation. Calls after the first successful Load do
// nothing. Concurrent calls share one fetch. A failed Load leaves the session
// unloaded so it can be retried.
func (s *Session[T]) Load(ctx context.Context, id int64) error {
	done, err := s.beginLoad(ctx)
	if done == nil || err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.loading = nil
		s.mu.Unlock()
		close(done)
	}()

	entity, err := s.fetch(ctx, id)
	s.observer.Loaded(s.kind, err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}

	s.initialized = true
	s.draft = entity
	s.original = entity
	s.result = Clean
	s.status = StatusIdle
	s.launchLocked(entity)
	return nil
}

// beginLoad waits for any Load already in flight. It returns a channel the
// caller must close once it has fetched, or nil if there is nothing to fetch.
func (s *Session[T]) beginLoad(ctx context.Context) (chan struct{}, error) {
	for {
		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return nil, ErrClosed
		case s.initialized:
			s.mu.Unlock()
			return nil, nil
		case s.loading == nil:
			s.loading = make(chan struct{})
			done := s.loading
			s.mu.Unlock()
			return done, nil
		}
		wait := s.loading
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session[T]) fetch(ctx context.Context, id int64) (T, error) {
	var zero T
	if id == model.NewID {
		return s.newFn(), nil
	}

	found, err := s.store.FindByID(ctx, id)
	if err != nil {
		s.notifier.Notify(Notice{Message: fmt.Sprintf("Couldn't open %s. Try again.", s.kind), Retryable: true})
		return zero, fmt.Errorf("loading %s %d: %w", s.kind, id, err)
	}
	if found == nil {
		s.notifier.Notify(Notice{Message: fmt.Sprintf("This %s no longer exists.", s.kind)})
		return zero, fmt.Errorf("%s %d: %w", s.kind, id, ErrNotFound)
	}
	return *found, nil
}

// Edit replaces the draft and revalidates it in the background. Any
// validation still running for an earlier draft is cancelled first.
func (s *Session[T]) Edit(draft T) error {
	return s.Update(func(T) T { return draft })
}

// Update replaces the draft with fn applied to the current one, then
// revalidates like Edit. fn runs with the session locked and must not call
// back into the session.
func (s *Session[T]) Update(fn func(T) T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.initialized {
		return ErrNotLoaded
	}

	s.draft = fn(s.draft)
	if s.name != nil {
		s.result.NameError = isBlank(s.name(s.draft))
	}
	s.launchLocked(s.draft)
	return nil
}

// launchLocked cancels the running validation, if any, and starts a new one
// for draft. The caller must hold s.mu.
func (s *Session[T]) launchLocked(draft T) {
	s.cancelLocked(true)

	ctx, cancel := context.WithCancel(s.base)
	v := &validation{cancel: cancel, done: make(chan struct{})}
	s.current = v
	s.status = StatusValidating
	s.observer.ValidationStarted(s.kind)

	go s.run(ctx, v, draft)
}

func (s *Session[T]) cancelLocked(superseded bool) {
	if s.current == nil {
		return
	}
	s.current.cancel()
	s.current = nil
	if superseded {
		s.observer.ValidationSuperseded(s.kind)
	}
}

func (s *Session[T]) run(ctx context.Context, v *validation, draft T) {
	defer close(v.done)

	res, err := s.validate(ctx, draft)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A cancelled task never touches state.
	if ctx.Err() != nil || s.current != v {
		return
	}
	s.current = nil
	v.cancel()

	if err != nil {
		s.log.Warn("background validation failed", "error", err)
		s.status = StatusUnknown
		s.observer.ValidationFailed(s.kind)
		return
	}

	s.result = res
	s.status = statusOf(res)
	s.observer.ValidationCompleted(s.kind, s.status)
}

func statusOf(res Result) Status {
	if res.Savable() {
		return StatusValid
	}
	return StatusInvalid
}

// Save validates the current draft against the store and persists it. On
// success the draft and original are replaced by the stored copy and
// onSuccess, if set, is called with it. A save is never cancelled by edits
// made while it runs; if the draft changed meanwhile, the newer draft is kept
// and only the original is replaced.
func (s *Session[T]) Save(ctx context.Context, onSuccess func(T)) (T, error) {
	var zero T

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return zero, ErrClosed
	case !s.initialized:
		s.mu.Unlock()
		return zero, ErrNotLoaded
	case s.saving:
		s.mu.Unlock()
		s.observer.Saved(s.kind, SaveRejected)
		return zero, ErrSaveInProgress
	}
	s.saving = true
	draft := s.draft
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	res, err := s.validate(ctx, draft)
	if err != nil {
		s.notifier.Notify(Notice{Message: fmt.Sprintf("Couldn't save %s. Try again.", s.kind), Retryable: true})
		s.observer.Saved(s.kind, SaveFailed)
		return zero, fmt.Errorf("validating %s: %w", s.kind, err)
	}
	if !res.Savable() {
		s.mu.Lock()
		if s.draft.Equal(draft) {
			s.cancelLocked(false)
			s.result = res
			s.status = StatusInvalid
		}
		s.mu.Unlock()
		s.observer.Saved(s.kind, SaveInvalid)
		return zero, ErrInvalid
	}

	saved, err := s.store.Upsert(ctx, draft)
	if err != nil {
		s.notifier.Notify(Notice{Message: fmt.Sprintf("Couldn't save %s. Try again.", s.kind), Retryable: true})
		s.observer.Saved(s.kind, SaveFailed)
		return zero, fmt.Errorf("saving %s: %w", s.kind, err)
	}

	s.mu.Lock()
	s.original = saved
	if s.draft.Equal(draft) {
		s.cancelLocked(false)
		s.draft = saved
		s.result = res
		s.status = StatusValid
	} else if !s.closed {
		// The newer draft now refers to the stored entity.
		s.draft = s.draft.WithIdentity(saved.Identity())
		s.launchLocked(s.draft)
	}
	s.mu.Unlock()

	s.observer.Saved(s.kind, SaveOK)
	if onSuccess != nil {
		onSuccess(saved)
	}
	return saved, nil
}

// State returns a snapshot of the session.
func (s *Session[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State[T]{
		Loaded:    s.initialized,
		Draft:     s.draft,
		Original:  s.original,
		Dirty:     s.initialized && !s.draft.Equal(s.original),
		CodeError: s.result.CodeError,
		NameError: s.result.NameError,
		Status:    s.status,
		Savable:   s.initialized && s.result.Savable(),
		Saving:    s.saving,
	}
}

// Wait blocks until no validation is running or ctx is done.
func (s *Session[T]) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		v := s.current
		s.mu.Unlock()
		if v == nil {
			return nil
		}

		select {
		case <-v.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels any running validation. The session cannot be used again.
func (s *Session[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelLocked(false)
	s.stopBase()
}
