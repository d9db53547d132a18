package allocation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
// Transactions are serialized and stage their writes until commit.
type InMemory struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	users      map[int64]Receiver
	cases      map[int64]Case
	records    []AllocationRecord
	cursors    map[Family]int64
	nextUser   int64
	nextCase   int64
	nextRecord int64
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[int64]Receiver),
		cases:   make(map[int64]Case),
		cursors: make(map[Family]int64),
	}
}

// AddReceiver registers a staff member and returns it with its new ID.
func (s *InMemory) AddReceiver(name string, role Role, active bool) Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	r := Receiver{ID: s.nextUser, Name: name, Role: role, Active: active}
	s.users[r.ID] = r
	return r
}

// SetActive toggles a receiver's active flag.
func (s *InMemory) SetActive(id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	r.Active = active
	s.users[id] = r
	return nil
}

func (s *InMemory) ActiveReceivers(ctx context.Context, roles []Role) ([]Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(roles), nil
}

func (s *InMemory) Receiver(ctx context.Context, id int64) (Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.users[id]
	if !ok {
		return Receiver{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemory) Case(ctx context.Context, id int64) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	return s.withName(c), nil
}

func (s *InMemory) CountCases(ctx context.Context, q CounterQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countMatching(s.cases, nil, q), nil
}

func (s *InMemory) PeekCursor(ctx context.Context, bucket Family) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[bucket], nil
}

// History returns the records of caseID in insertion order.
func (s *InMemory) History(ctx context.Context, caseID int64) ([]AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AllocationRecord
	for _, rec := range s.records {
		if rec.CaseID != caseID {
			continue
		}
		if rec.PreviousReceiverID != nil {
			rec.PreviousReceiverName = s.users[*rec.PreviousReceiverID].Name
		}
		rec.NewReceiverName = s.users[rec.NewReceiverID].Name
		out = append(out, rec)
	}
	return out, nil
}

// WithinTx serializes transactions; the lock key is irrelevant in process.
func (s *InMemory) WithinTx(ctx context.Context, lockKey string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		store:   s,
		cases:   make(map[int64]Case),
		cursors: make(map[Family]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range tx.cases {
		s.cases[id] = c
	}
	s.records = append(s.records, tx.records...)
	for f, v := range tx.cursors {
		s.cursors[f] = v
	}
	return nil
}

func (s *InMemory) activeLocked(roles []Role) []Receiver {
	var out []Receiver
	for _, r := range s.users {
		if r.Active && contains(roles, r.Role) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemory) withName(c Case) Case {
	if c.ReceiverID != nil {
		c.ReceiverName = s.users[*c.ReceiverID].Name
	}
	return c
}

// countMatching counts cases in base overlaid by staged.
func countMatching(base, staged map[int64]Case, q CounterQuery) int64 {
	var n int64
	match := func(c Case) bool {
		if c.ID == q.ExcludeCaseID {
			return false
		}
		if len(q.CaseTypes) > 0 && !contains(q.CaseTypes, c.Type) {
			return false
		}
		return q.Since.IsZero() || !c.CreatedAt.Before(q.Since)
	}
	for id, c := range base {
		if s, ok := staged[id]; ok {
			c = s
		}
		if match(c) {
			n++
		}
	}
	for id, c := range staged {
		if _, ok := base[id]; !ok && match(c) {
			n++
		}
	}
	return n
}

// memTx stages writes on top of the committed state.
type memTx struct {
	store   *InMemory
	cases   map[int64]Case
	records []AllocationRecord
	cursors map[Family]int64
}

func (t *memTx) ActiveReceivers(ctx context.Context, roles []Role) ([]Receiver, error) {
	return t.store.ActiveReceivers(ctx, roles)
}

func (t *memTx) Receiver(ctx context.Context, id int64) (Receiver, error) {
	return t.store.Receiver(ctx, id)
}

func (t *memTx) Case(ctx context.Context, id int64) (Case, error) {
	if c, ok := t.cases[id]; ok {
		t.store.mu.RLock()
		defer t.store.mu.RUnlock()
		return t.store.withName(c), nil
	}
	return t.store.Case(ctx, id)
}

func (t *memTx) LockCase(ctx context.Context, id int64) (Case, error) {
	return t.Case(ctx, id)
}

func (t *memTx) CountCases(ctx context.Context, q CounterQuery) (int64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return countMatching(t.store.cases, t.cases, q), nil
}

func (t *memTx) PeekCursor(ctx context.Context, bucket Family) (int64, error) {
	if v, ok := t.cursors[bucket]; ok {
		return v, nil
	}
	return t.store.PeekCursor(ctx, bucket)
}

func (t *memTx) AdvanceCursor(ctx context.Context, bucket Family) (int64, error) {
	cur, err := t.PeekCursor(ctx, bucket)
	if err != nil {
		return 0, err
	}
	t.cursors[bucket] = cur + 1
	return cur, nil
}

func (t *memTx) InsertCase(ctx context.Context, c Case) (Case, error) {
	t.store.mu.Lock()
	t.store.nextCase++
	c.ID = t.store.nextCase
	t.store.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.ReceiverName = ""
	t.cases[c.ID] = c
	return c, nil
}

func (t *memTx) AssignCase(ctx context.Context, caseID, receiverID int64, at time.Time) error {
	c, err := t.Case(ctx, caseID)
	if err != nil {
		return err
	}
	if _, err := t.store.Receiver(ctx, receiverID); err != nil {
		return err
	}
	id := receiverID
	c.ReceiverID = &id
	c.ReceiverName = ""
	done := at
	c.CompletedAt = &done
	t.cases[caseID] = c
	return nil
}

func (t *memTx) AppendRecord(ctx context.Context, rec AllocationRecord) (AllocationRecord, error) {
	if _, err := t.Case(ctx, rec.CaseID); err != nil {
		return AllocationRecord{}, err
	}
	t.store.mu.Lock()
	t.store.nextRecord++
	rec.ID = t.store.nextRecord
	t.store.mu.Unlock()
	if rec.AllocatedAt.IsZero() {
		rec.AllocatedAt = time.Now()
	}
	stored := rec
	stored.PreviousReceiverName = ""
	stored.NewReceiverName = ""
	t.records = append(t.records, stored)
	return rec, nil
}
