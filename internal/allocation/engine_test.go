package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyAllocated(ctx context.Context, rc Receiver, t CaseType, party string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("allocated:%d:%s:%s", rc.ID, t, party))
	return n.err
}

func (n *recordingNotifier) NotifyUpcoming(ctx context.Context, rc Receiver, current string, t CaseType, party string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("upcoming:%d:%s:%s", rc.ID, current, t))
	return n.err
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type fixture struct {
	store *InMemory
	a, b  Receiver
	dev   Receiver
	desk  Receiver
	clock *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture() *fixture {
	s := NewInMemory()
	f := &fixture{store: s, clock: &clock{now: baseTime}}
	f.a = s.AddReceiver("Alice", RoleGeneralReceiver, true)
	f.b = s.AddReceiver("Bob", RoleGeneralReceiver, true)
	f.dev = s.AddReceiver("Devco", RoleDeveloper, true)
	f.desk = s.AddReceiver("Desk", RoleEnterpriseDesk, true)
	return f
}

func (f *fixture) engine(n Notifier, opts ...Option) *Engine {
	opts = append([]Option{WithClock(f.clock.Now), WithLocation(time.UTC)}, opts...)
	return NewEngine(f.store, n, opts...)
}

func draft(t CaseType, creator Receiver) CaseDraft {
	return CaseDraft{Type: t, CreatorID: creator.ID, RequestingParty: "Acme Ltd", Agent: "J. Doe", Contact: "555-0100"}
}

func TestRotationAcrossCreations(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	want := []int64{f.a.ID, f.b.ID, f.a.ID}
	for i, id := range want {
		_, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if rc.ID != id {
			t.Fatalf("allocation %d: got %d want %d", i, rc.ID, id)
		}
	}
	e.Wait()
}

func TestGeneralReceiverSelfAssigns(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	c, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a))
	if err != nil {
		t.Fatal(err)
	}
	if rc.ID != f.a.ID || c.ReceiverID == nil || *c.ReceiverID != f.a.ID {
		t.Fatalf("expected self-assignment to %d, got %+v / %+v", f.a.ID, rc, c)
	}
	if c.CompletedAt == nil || !c.CompletedAt.Equal(baseTime) {
		t.Fatalf("completion time not set at allocation: %v", c.CompletedAt)
	}
	hist, err := e.GetAllocationHistory(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(hist))
	}
	if hist[0].PreviousReceiverID != nil || hist[0].NewReceiverID != f.a.ID {
		t.Fatalf("unexpected record: %+v", hist[0])
	}
	if hist[0].NewReceiverName != "Alice" || hist[0].AllocatedBy != "Alice" {
		t.Fatalf("names not resolved: %+v", hist[0])
	}
	e.Wait()
}

type spyStore struct {
	*InMemory
	mu    sync.Mutex
	reads int
	txs   int
}

func (s *spyStore) ActiveReceivers(ctx context.Context, roles []Role) ([]Receiver, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.InMemory.ActiveReceivers(ctx, roles)
}

func (s *spyStore) CountCases(ctx context.Context, q CounterQuery) (int64, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.InMemory.CountCases(ctx, q)
}

func (s *spyStore) WithinTx(ctx context.Context, key string, fn func(Tx) error) error {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	return s.InMemory.WithinTx(ctx, key, fn)
}

func TestDeveloperFirstRejectedBeforeAllocation(t *testing.T) {
	f := newFixture()
	spy := &spyStore{InMemory: f.store}
	e := NewEngine(spy, nil, WithClock(f.clock.Now))

	_, _, err := e.AllocateOnCreate(context.Background(), draft(TypeDeveloperFirst, f.dev))
	if !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if spy.reads != 0 || spy.txs != 0 {
		t.Fatalf("rotation touched: reads=%d txs=%d", spy.reads, spy.txs)
	}
	if n, _ := f.store.CountCases(context.Background(), CounterQuery{}); n != 0 {
		t.Fatalf("case persisted despite rejection: %d", n)
	}

	if _, rc, err := e.AllocateOnCreate(context.Background(), draft(TypeDeveloperFirst, f.desk)); err != nil || rc.ID != f.desk.ID {
		t.Fatalf("desk should self-assign developer-first: %+v %v", rc, err)
	}
}

func TestDeveloperFirstStaysWithEnterpriseDesk(t *testing.T) {
	f := newFixture()
	n := &recordingNotifier{}
	e := f.engine(n)
	ctx := context.Background()

	if _, rc, err := e.AllocateOnCreate(ctx, draft(TypeDeveloperFirst, f.desk)); err != nil || rc.ID != f.desk.ID {
		t.Fatalf("desk self-assign: %+v %v", rc, err)
	}
	e.Wait()
	if calls := n.snapshot(); len(calls) != 0 {
		t.Fatalf("general receivers notified about a desk case: %v", calls)
	}
	next, err := e.PreviewNext(ctx, TypeDeveloperFirst)
	if err != nil || next.ID != f.desk.ID {
		t.Fatalf("developer-first preview: %+v %v", next, err)
	}
	if _, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); err != nil || rc.ID != f.a.ID {
		t.Fatalf("general rotation shifted by a desk case: %+v %v", rc, err)
	}
	e.Wait()
}

func TestDeveloperTransferFallsBackToCreator(t *testing.T) {
	s := NewInMemory()
	dev := s.AddReceiver("Devco", RoleDeveloper, true)
	s.AddReceiver("Away", RoleGeneralReceiver, false)
	e := NewEngine(s, nil)
	ctx := context.Background()

	c, rc, err := e.AllocateOnCreate(ctx, draft(TypeDeveloperTransfer, dev))
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if rc.ID != dev.ID {
		t.Fatalf("expected creator %d, got %d", dev.ID, rc.ID)
	}
	hist, err := e.GetAllocationHistory(ctx, c.ID)
	if err != nil || len(hist) != 1 || hist[0].NewReceiverID != dev.ID {
		t.Fatalf("unexpected history %+v %v", hist, err)
	}

	if _, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, dev)); !errors.Is(err, ErrNoEligibleReceiver) {
		t.Fatalf("general case must not fall back, got %v", err)
	}
	if n, _ := s.CountCases(ctx, CounterQuery{}); n != 1 {
		t.Fatalf("failed allocation left a case behind: %d cases", n)
	}
}

func TestManualReassign(t *testing.T) {
	f := newFixture()
	n := &recordingNotifier{}
	e := f.engine(n)
	ctx := context.Background()

	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a))
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()
	first, err := e.GetAllocationHistory(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(time.Hour)
	rec, err := e.ManualReassign(ctx, c.ID, f.b.ID, f.a.ID, "  workload  ")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PreviousReceiverID == nil || *rec.PreviousReceiverID != f.a.ID || rec.NewReceiverID != f.b.ID {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.AllocatedBy != "Alice" || rec.Reason != "workload" {
		t.Fatalf("actor/reason not recorded: %+v", rec)
	}
	got, err := f.store.Case(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got.ReceiverID != f.b.ID || got.ReceiverName != "Bob" {
		t.Fatalf("case receiver not updated: %+v", got)
	}
	if want := baseTime.Add(time.Hour); got.CompletedAt == nil || !got.CompletedAt.Equal(want) {
		t.Fatalf("completion time not moved by reassignment: %v, want %v", got.CompletedAt, want)
	}

	hist, err := e.GetAllocationHistory(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected two records, got %d", len(hist))
	}
	if hist[0] != first[0] {
		t.Fatalf("earlier record mutated: %+v vs %+v", hist[0], first[0])
	}
	if hist[1].ID <= hist[0].ID || hist[1].NewReceiverID != *got.ReceiverID {
		t.Fatalf("newest record must match current receiver: %+v", hist)
	}

	e.Wait()
	calls := n.snapshot()
	wantLast := fmt.Sprintf("allocated:%d:general:Acme Ltd", f.b.ID)
	if len(calls) == 0 || calls[len(calls)-1] != wantLast {
		t.Fatalf("reassignment notification missing: %v", calls)
	}
}

func TestManualReassignValidation(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()
	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a))
	if err != nil {
		t.Fatal(err)
	}
	off := f.store.AddReceiver("Off", RoleGeneralReceiver, false)

	if _, err := e.ManualReassign(ctx, c.ID, f.a.ID, f.a.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("same receiver: %v", err)
	}
	if _, err := e.ManualReassign(ctx, c.ID, off.ID, f.a.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("inactive target: %v", err)
	}
	if _, err := e.ManualReassign(ctx, c.ID, 999, f.a.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown target: %v", err)
	}
	if _, err := e.ManualReassign(ctx, 999, f.b.ID, f.a.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown case: %v", err)
	}

	rec, err := e.ManualReassign(ctx, c.ID, f.b.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AllocatedBy != SystemActor || rec.Reason != reasonManualDefault {
		t.Fatalf("expected system actor and default reason: %+v", rec)
	}
	hist, _ := e.GetAllocationHistory(ctx, c.ID)
	if len(hist) != 2 {
		t.Fatalf("rejected reassignments must not append records: %d", len(hist))
	}
}

type faultStore struct {
	*InMemory
	failAppend bool
	failAssign bool
}

type faultTx struct {
	Tx
	s *faultStore
}

func (t faultTx) AppendRecord(ctx context.Context, rec AllocationRecord) (AllocationRecord, error) {
	if t.s.failAppend {
		return AllocationRecord{}, errors.New("disk full")
	}
	return t.Tx.AppendRecord(ctx, rec)
}

func (t faultTx) AssignCase(ctx context.Context, caseID, receiverID int64, at time.Time) error {
	if t.s.failAssign {
		return errors.New("connection reset")
	}
	return t.Tx.AssignCase(ctx, caseID, receiverID, at)
}

func (s *faultStore) WithinTx(ctx context.Context, key string, fn func(Tx) error) error {
	return s.InMemory.WithinTx(ctx, key, func(tx Tx) error {
		return fn(faultTx{Tx: tx, s: s})
	})
}

func TestAllocationIsAtomic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	fs := &faultStore{InMemory: f.store, failAppend: true}
	e := NewEngine(fs, nil, WithClock(f.clock.Now))

	_, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	if !errors.Is(err, ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	if n, _ := f.store.CountCases(ctx, CounterQuery{}); n != 0 {
		t.Fatalf("case visible after rollback: %d", n)
	}

	// Reassignment: case update succeeds, record append fails.
	fs.failAppend = false
	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	if err != nil {
		t.Fatal(err)
	}
	fs.failAppend = true
	if _, err := e.ManualReassign(ctx, c.ID, f.b.ID, 0, ""); !errors.Is(err, ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	got, _ := f.store.Case(ctx, c.ID)
	if *got.ReceiverID != f.a.ID {
		t.Fatalf("case update leaked: receiver %d", *got.ReceiverID)
	}

	// Record first would be fine, but the case update fails.
	fs.failAppend, fs.failAssign = false, true
	if _, err := e.ManualReassign(ctx, c.ID, f.b.ID, 0, ""); !errors.Is(err, ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	hist, _ := f.store.History(ctx, c.ID)
	if len(hist) != 1 {
		t.Fatalf("record leaked: %d records", len(hist))
	}
	e.Wait()
}

func TestAllocateExistingCaseExcludesItself(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	c1, rc1, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	if err != nil || rc1.ID != f.a.ID {
		t.Fatalf("first: %+v %v", rc1, err)
	}
	if _, rc2, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); err != nil || rc2.ID != f.b.ID {
		t.Fatalf("second: %+v %v", rc2, err)
	}

	rc, rec, err := e.Allocate(ctx, c1.ID, RoleDeveloper)
	if err != nil {
		t.Fatal(err)
	}
	// Only the other committed case counts: index 1.
	if rc.ID != f.b.ID {
		t.Fatalf("expected %d, got %d", f.b.ID, rc.ID)
	}
	if rec.PreviousReceiverID == nil || *rec.PreviousReceiverID != f.a.ID || rec.NewReceiverID != f.b.ID {
		t.Fatalf("unexpected record %+v", rec)
	}
	got, _ := f.store.Case(ctx, c1.ID)
	if *got.ReceiverID != rec.NewReceiverID {
		t.Fatalf("case and record disagree: %d vs %d", *got.ReceiverID, rec.NewReceiverID)
	}

	if _, _, err := e.Allocate(ctx, c1.ID, RoleAdministrator); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("role other than the creator's: %v", err)
	}
	if _, _, err := e.Allocate(ctx, 999, RoleDeveloper); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown case: %v", err)
	}
	if _, _, err := e.Allocate(ctx, c1.ID, Role("intern")); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown role: %v", err)
	}
	e.Wait()
}

func TestAllocateUsesStoredCreatorRole(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Allocate(ctx, c.ID, RoleGeneralReceiver); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("claimed general-receiver on a developer case: %v", err)
	}
	got, _ := f.store.Case(ctx, c.ID)
	if *got.ReceiverID == f.dev.ID {
		t.Fatalf("case assigned to its developer creator")
	}
	if hist, _ := f.store.History(ctx, c.ID); len(hist) != 1 {
		t.Fatalf("rejected allocation wrote a record: %d records", len(hist))
	}
	e.Wait()
}

func TestAllocateMovesCompletionTime(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(90 * time.Minute)
	if _, _, err := e.Allocate(ctx, c.ID, RoleDeveloper); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.Case(ctx, c.ID)
	if want := baseTime.Add(90 * time.Minute); got.CompletedAt == nil || !got.CompletedAt.Equal(want) {
		t.Fatalf("completion time %v, want %v", got.CompletedAt, want)
	}
	e.Wait()
}

// deactivatingStore switches a user off right before each transaction starts.
type deactivatingStore struct {
	*InMemory
	userID int64
}

func (s *deactivatingStore) WithinTx(ctx context.Context, key string, fn func(Tx) error) error {
	if err := s.InMemory.SetActive(s.userID, false); err != nil {
		return err
	}
	return s.InMemory.WithinTx(ctx, key, fn)
}

func TestSelfAssignSeesDeactivationInsideTx(t *testing.T) {
	f := newFixture()
	s := &deactivatingStore{InMemory: f.store, userID: f.a.ID}
	e := NewEngine(s, nil, WithClock(f.clock.Now), WithLocation(time.UTC))
	ctx := context.Background()

	if _, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a)); !errors.Is(err, ErrValidation) {
		t.Fatalf("inactive creator self-assigned: %v", err)
	}
	if n, _ := f.store.CountCases(ctx, CounterQuery{}); n != 0 {
		t.Fatalf("failed allocation left %d cases", n)
	}
}

func TestDraftValidation(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	cases := map[string]CaseDraft{
		"missing type":    {CreatorID: f.a.ID, RequestingParty: "x"},
		"unknown type":    {Type: "lottery", CreatorID: f.a.ID, RequestingParty: "x"},
		"missing creator": {Type: TypeGeneral, RequestingParty: "x"},
		"unknown creator": {Type: TypeGeneral, CreatorID: 404, RequestingParty: "x"},
		"missing party":   {Type: TypeGeneral, CreatorID: f.a.ID},
		"developer party": {Type: TypeDeveloperTransfer, CreatorID: f.dev.ID},
	}
	for name, d := range cases {
		if _, _, err := e.AllocateOnCreate(ctx, d); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if _, _, err := e.AllocateOnCreate(ctx, CaseDraft{Type: TypeGeneral, CreatorID: f.dev.ID}); err != nil {
		t.Fatalf("developers may omit the requesting party on general cases: %v", err)
	}
	e.Wait()
}

func TestNotificationsAfterCommit(t *testing.T) {
	f := newFixture()
	n := &recordingNotifier{}
	e := f.engine(n)
	ctx := context.Background()

	// Self-assigned: creator gets no allocation notice, next in rotation is told.
	if _, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a)); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	calls := n.snapshot()
	want := fmt.Sprintf("upcoming:%d:Alice:general", f.b.ID)
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("unexpected calls %v want [%s]", calls, want)
	}

	// Developer creator: no upcoming notice, receiver is told.
	if _, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); err != nil {
		t.Fatal(err)
	} else {
		e.Wait()
		calls = n.snapshot()[1:]
		want = fmt.Sprintf("allocated:%d:general:Acme Ltd", rc.ID)
		if len(calls) != 1 || calls[0] != want {
			t.Fatalf("unexpected calls %v want [%s]", calls, want)
		}
	}
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	n := &recordingNotifier{err: errors.New("broker down")}
	e := f.engine(n)
	ctx, cancel := context.WithCancel(context.Background())

	c, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
	cancel()
	if err != nil {
		t.Fatalf("notification failure leaked into result: %v", err)
	}
	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := e.Close(waitCtx); err != nil {
		t.Fatal(err)
	}
	if len(n.snapshot()) != 1 {
		t.Fatalf("dispatch not attempted: %v", n.snapshot())
	}
	if _, err := f.store.Case(context.Background(), c.ID); err != nil {
		t.Fatalf("committed case lost: %v", err)
	}
}

func TestConcurrentAllocationsStayFair(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	hits := map[int64]int{}
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev))
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			hits[rc.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if hits[f.a.ID] != n/2 || hits[f.b.ID] != n/2 {
		t.Fatalf("unfair distribution: %v", hits)
	}
	e.Wait()
}

func TestCursorStrategy(t *testing.T) {
	f := newFixture()
	e := f.engine(nil, WithStrategy(StrategyCursor))
	ctx := context.Background()

	want := []int64{f.a.ID, f.b.ID, f.a.ID}
	for i, id := range want {
		_, rc, err := e.AllocateOnCreate(ctx, draft(TypeComplex, f.dev))
		if err != nil || rc.ID != id {
			t.Fatalf("allocation %d: %+v %v", i, rc, err)
		}
	}
	// Self-assignment does not move the cursor.
	if _, _, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.a)); err != nil {
		t.Fatal(err)
	}
	cur, _ := f.store.PeekCursor(ctx, FamilyGeneral)
	if cur != 3 {
		t.Fatalf("cursor=%d want 3", cur)
	}
	next, err := e.PreviewNext(ctx, TypeGeneral)
	if err != nil || next.ID != f.b.ID {
		t.Fatalf("preview: %+v %v", next, err)
	}
	if _, rc, err := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); err != nil || rc.ID != f.b.ID {
		t.Fatalf("after self-assign: %+v %v", rc, err)
	}
	e.Wait()
}

func TestTrailingWindowForgetsOldCases(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	trailing := f.engine(nil)
	if _, rc, _ := trailing.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); rc.ID != f.a.ID {
		t.Fatalf("first pick %d", rc.ID)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	if _, rc, _ := trailing.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); rc.ID != f.a.ID {
		t.Fatalf("trailing window should restart at the first candidate, got %d", rc.ID)
	}

	g := newFixture()
	lifetime := g.engine(nil, WithStrategy(StrategyLifetime))
	lifetime.AllocateOnCreate(ctx, draft(TypeGeneral, g.dev))
	g.clock.Advance(31 * 24 * time.Hour)
	if _, rc, _ := lifetime.AllocateOnCreate(ctx, draft(TypeGeneral, g.dev)); rc.ID != g.b.ID {
		t.Fatalf("lifetime counter should continue, got %d", rc.ID)
	}
	trailing.Wait()
	lifetime.Wait()
}

func TestSameDayCountsOnlyItsType(t *testing.T) {
	f := newFixture()
	e := f.engine(nil, WithStrategy(StrategySameDay))
	ctx := context.Background()

	if _, rc, _ := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); rc.ID != f.a.ID {
		t.Fatalf("general #1 got %d", rc.ID)
	}
	if _, rc, _ := e.AllocateOnCreate(ctx, draft(TypeComplex, f.dev)); rc.ID != f.a.ID {
		t.Fatalf("complex #1 got %d", rc.ID)
	}
	if _, rc, _ := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); rc.ID != f.b.ID {
		t.Fatalf("general #2 got %d", rc.ID)
	}
	f.clock.Advance(24 * time.Hour)
	if _, rc, _ := e.AllocateOnCreate(ctx, draft(TypeGeneral, f.dev)); rc.ID != f.a.ID {
		t.Fatalf("next day should reset, got %d", rc.ID)
	}
	e.Wait()
}

func TestHistoryUnknownCase(t *testing.T) {
	e := NewEngine(NewInMemory(), nil)
	if _, err := e.GetAllocationHistory(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.GetAllocationHistory(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPreviewNext(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	ctx := context.Background()

	next, err := e.PreviewNext(ctx, TypeEnterprise)
	if err != nil || next.ID != f.desk.ID {
		t.Fatalf("enterprise preview: %+v %v", next, err)
	}
	if _, err := e.PreviewNext(ctx, "bogus"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bogus type: %v", err)
	}
	f.store.SetActive(f.desk.ID, false)
	if _, err := e.PreviewNext(ctx, TypeEnterprise); !errors.Is(err, ErrNoEligibleReceiver) {
		t.Fatalf("empty pool: %v", err)
	}
}
