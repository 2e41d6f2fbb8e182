package edit

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/erazemk/boxanizer/internal/model"
)

var errMissing = errors.New("missing")

// fakeBoxes is an in-memory BoxStore. Code lookups and upserts can be held
// open with gates to force a particular completion order.
type fakeBoxes struct {
	mu     sync.Mutex
	boxes  map[int64]model.Box
	nextID int64
	finds  int
	lookup int

	findGate    chan struct{}
	findEnter   chan struct{}
	codeGates   map[string]chan struct{}
	codeErr     error
	upsertErr   error
	upsertGate  chan struct{}
	upsertEnter chan struct{}
}

func newFakeBoxes(boxes ...model.Box) *fakeBoxes {
	f := &fakeBoxes{boxes: map[int64]model.Box{}, nextID: 100, codeGates: map[string]chan struct{}{}}
	for _, b := range boxes {
		f.boxes[b.ID] = b
	}
	return f
}

func (f *fakeBoxes) FindByID(_ context.Context, id int64) (*model.Box, error) {
	f.mu.Lock()
	f.finds++
	gate, enter := f.findGate, f.findEnter
	f.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boxes[id]
	if !ok {
		return nil, nil
	}
	b.Image = bytes.Clone(b.Image)
	return &b, nil
}

func (f *fakeBoxes) FindByCode(_ context.Context, code string) (*model.Box, error) {
	f.mu.Lock()
	gate := f.codeGates[code]
	err := f.codeErr
	f.mu.Unlock()

	// Gates ignore cancellation so a superseded lookup still completes late.
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookup++
	for _, b := range f.boxes {
		if b.Code == code {
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeBoxes) Upsert(_ context.Context, b model.Box) (model.Box, error) {
	f.mu.Lock()
	gate, enter, err := f.upsertGate, f.upsertEnter, f.upsertErr
	f.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return model.Box{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == model.NewID {
		b.ID = f.nextID
		f.nextID++
	} else if _, ok := f.boxes[b.ID]; !ok {
		return model.Box{}, errMissing
	}
	b.Image = bytes.Clone(b.Image)
	f.boxes[b.ID] = b
	return b, nil
}

func (f *fakeBoxes) setCodeGate(code string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.codeGates[code] = gate
	return gate
}

func (f *fakeBoxes) setCodeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeErr = err
}

func (f *fakeBoxes) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

// countingObserver tallies observer callbacks.
type countingObserver struct {
	mu         sync.Mutex
	started    int
	superseded int
	failed     int
	completed  map[Status]int
	saves      map[SaveOutcome]int
	loads      int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{completed: map[Status]int{}, saves: map[SaveOutcome]int{}}
}

func (o *countingObserver) Loaded(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads++
}

func (o *countingObserver) ValidationStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) ValidationSuperseded(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.superseded++
}

func (o *countingObserver) ValidationFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *countingObserver) ValidationCompleted(_ string, st Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[st]++
}

func (o *countingObserver) Saved(_ string, outcome SaveOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saves[outcome]++
}
