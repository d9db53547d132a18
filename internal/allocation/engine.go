package allocation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"intake.org/internal/audit"
	"intake.org/internal/obs"
)

const (
	// SystemActor is recorded when the acting user cannot be resolved.
	SystemActor = "system"

	NotificationAllocated = "case.allocated"
	NotificationUpcoming  = "case.upcoming"

	reasonRotation       = "rotation"
	reasonSelfAssign     = "self-assignment"
	reasonFallback       = "developer-transfer fallback: no eligible receiver"
	reasonManualDefault  = "manual reassignment"
	maxReasonLength      = 500
	defaultNotifyTimeout = 10 * time.Second
)

// Engine decides receivers and commits each decision together with its record.
type Engine struct {
	store         Store
	notifier      Notifier
	policy        Policy
	resolver      Resolver
	strategy      Strategy
	window        time.Duration
	loc           *time.Location
	now           func() time.Time
	log           *logrus.Logger
	notifyTimeout time.Duration
	validate      *validator.Validate

	buckets map[Family]*sync.Mutex
	pending sync.WaitGroup
}

// Option configures Engine.
type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != "" {
			e.strategy = s
		}
	}
}

// WithWindow sets the trailing-window length.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithNotifyTimeout bounds each asynchronous notification batch.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

// NewEngine wires an engine. A nil notifier drops notifications.
func NewEngine(store Store, notifier Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		store:         store,
		notifier:      notifier,
		policy:        DefaultPolicy(),
		strategy:      StrategyTrailingWindow,
		window:        DefaultWindow,
		loc:           time.Local,
		now:           time.Now,
		log:           obs.Logger(),
		notifyTimeout: defaultNotifyTimeout,
		validate:      newValidator(),
		buckets:       make(map[Family]*sync.Mutex, len(AllFamilies())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(e.policy)
	for _, f := range AllFamilies() {
		e.buckets[f] = &sync.Mutex{}
	}
	return e
}

func (e *Engine) Policy() Policy     { return e.policy }
func (e *Engine) Strategy() Strategy { return e.strategy }

// AllocateOnCreate persists a new case and its first allocation in one transaction.
func (e *Engine) AllocateOnCreate(ctx context.Context, draft CaseDraft) (Case, Receiver, error) {
	start := time.Now()
	draft = normalizeDraft(draft)
	if err := e.validateDraft(draft); err != nil {
		obs.ObserveAllocation("none", "invalid", time.Since(start))
		return Case{}, Receiver{}, err
	}
	creator, err := e.store.Receiver(ctx, draft.CreatorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: creator %d not found", ErrValidation, draft.CreatorID)
		}
		obs.ObserveAllocation("none", outcomeOf(err), time.Since(start))
		return Case{}, Receiver{}, e.txError(err)
	}
	if draft.RequestingParty == "" && (creator.Role != RoleDeveloper || FamilyOf(draft.Type) == FamilyDeveloperTransfer) {
		obs.ObserveAllocation("none", "invalid", time.Since(start))
		return Case{}, Receiver{}, fmt.Errorf("%w: requesting_party is required", ErrValidation)
	}

	d := e.policy.Decide(creator.Role, draft.Type)
	if d.Action == ActionReject {
		return Case{}, Receiver{}, e.reject(ctx, creator.Role, draft.Type, d, start)
	}

	bucket := FamilyOf(draft.Type)
	mu := e.buckets[bucket]
	mu.Lock()
	defer mu.Unlock()

	var (
		c      Case
		rc     Receiver
		rec    AllocationRecord
		reason string
	)
	err = e.store.WithinTx(ctx, rotationLockKey(bucket), func(tx Tx) error {
		var err error
		if creator, err = e.reloadCreator(ctx, tx, creator); err != nil {
			return err
		}
		rc, reason, err = e.choose(ctx, tx, d, draft.Type, creator, 0)
		if err != nil {
			return err
		}
		now := e.now()
		receiverID := rc.ID
		c, err = tx.InsertCase(ctx, Case{
			Number:          draft.Number,
			Type:            draft.Type,
			CreatorID:       creator.ID,
			CreatedAt:       now,
			ReceiverID:      &receiverID,
			CompletedAt:     &now,
			RequestingParty: draft.RequestingParty,
			Agent:           draft.Agent,
			Contact:         draft.Contact,
			Description:     draft.Description,
		})
		if err != nil {
			return err
		}
		rec, err = tx.AppendRecord(ctx, AllocationRecord{
			CaseID:        c.ID,
			NewReceiverID: rc.ID,
			AllocatedBy:   creator.Name,
			Reason:        reason,
			AllocatedAt:   now,
		})
		return err
	})
	label := decisionLabel(d, reason)
	if err != nil {
		obs.ObserveAllocation(label, outcomeOf(err), time.Since(start))
		return Case{}, Receiver{}, e.txError(err)
	}
	obs.ObserveAllocation(label, "ok", time.Since(start))
	c.ReceiverName = rc.Name

	_ = audit.LogEvent(ctx, "allocation.case.allocated", map[string]any{
		"case_id":     c.ID,
		"case_type":   string(c.Type),
		"record_id":   rec.ID,
		"receiver_id": rc.ID,
		"creator_id":  creator.ID,
		"decision":    label,
		"strategy":    string(e.strategy),
	})
	e.dispatch(ctx, e.afterAllocation(ctx, creator, rc, c))
	return c, rc, nil
}

// Allocate runs the allocation decision for an already persisted case.
func (e *Engine) Allocate(ctx context.Context, caseID int64, creatorRole Role) (Receiver, AllocationRecord, error) {
	start := time.Now()
	if caseID <= 0 {
		return Receiver{}, AllocationRecord{}, fmt.Errorf("%w: case id must be positive", ErrValidation)
	}
	if !creatorRole.Valid() {
		return Receiver{}, AllocationRecord{}, fmt.Errorf("%w: unknown creator role %q", ErrValidation, creatorRole)
	}
	c, err := e.store.Case(ctx, caseID)
	if err != nil {
		return Receiver{}, AllocationRecord{}, e.txError(err)
	}
	creator, err := e.store.Receiver(ctx, c.CreatorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: creator %d not found", ErrValidation, c.CreatorID)
		}
		return Receiver{}, AllocationRecord{}, e.txError(err)
	}
	if creator.Role != creatorRole {
		obs.ObserveAllocation("none", "rejected", time.Since(start))
		return Receiver{}, AllocationRecord{}, fmt.Errorf("%w: case %d was created by a %s, not a %s",
			ErrAuthorization, c.ID, creator.Role, creatorRole)
	}
	d := e.policy.Decide(creator.Role, c.Type)
	if d.Action == ActionReject {
		return Receiver{}, AllocationRecord{}, e.reject(ctx, creator.Role, c.Type, d, start)
	}

	bucket := FamilyOf(c.Type)
	mu := e.buckets[bucket]
	mu.Lock()
	defer mu.Unlock()

	var (
		rc     Receiver
		rec    AllocationRecord
		reason string
	)
	err = e.store.WithinTx(ctx, rotationLockKey(bucket), func(tx Tx) error {
		locked, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if creator, err = e.reloadCreator(ctx, tx, creator); err != nil {
			return err
		}
		rc, reason, err = e.choose(ctx, tx, d, locked.Type, creator, locked.ID)
		if err != nil {
			return err
		}
		now := e.now()
		if err := tx.AssignCase(ctx, locked.ID, rc.ID, now); err != nil {
			return err
		}
		rec, err = tx.AppendRecord(ctx, AllocationRecord{
			CaseID:               locked.ID,
			PreviousReceiverID:   locked.ReceiverID,
			NewReceiverID:        rc.ID,
			AllocatedBy:          creator.Name,
			Reason:               reason,
			AllocatedAt:          now,
			PreviousReceiverName: locked.ReceiverName,
		})
		c = locked
		return err
	})
	label := decisionLabel(d, reason)
	if err != nil {
		obs.ObserveAllocation(label, outcomeOf(err), time.Since(start))
		return Receiver{}, AllocationRecord{}, e.txError(err)
	}
	obs.ObserveAllocation(label, "ok", time.Since(start))
	rec.NewReceiverName = rc.Name

	_ = audit.LogEvent(ctx, "allocation.case.allocated", map[string]any{
		"case_id":     c.ID,
		"case_type":   string(c.Type),
		"record_id":   rec.ID,
		"receiver_id": rc.ID,
		"creator_id":  creator.ID,
		"decision":    label,
		"strategy":    string(e.strategy),
	})
	e.dispatch(ctx, e.afterAllocation(ctx, creator, rc, c))
	return rc, rec, nil
}

// ManualReassign records a directed reassignment. Eligibility and rotation are
// bypassed but the target must be an existing active user.
func (e *Engine) ManualReassign(ctx context.Context, caseID, targetReceiverID, actingUserID int64, reason string) (AllocationRecord, error) {
	start := time.Now()
	reason = strings.TrimSpace(reason)
	switch {
	case caseID <= 0:
		return AllocationRecord{}, fmt.Errorf("%w: case id must be positive", ErrValidation)
	case targetReceiverID <= 0:
		return AllocationRecord{}, fmt.Errorf("%w: target receiver id must be positive", ErrValidation)
	case len([]rune(reason)) > maxReasonLength:
		return AllocationRecord{}, fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, maxReasonLength)
	}
	if reason == "" {
		reason = reasonManualDefault
	}

	var (
		c      Case
		target Receiver
		rec    AllocationRecord
	)
	err := e.store.WithinTx(ctx, caseLockKey(caseID), func(tx Tx) error {
		var err error
		c, err = tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		target, err = tx.Receiver(ctx, targetReceiverID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: target receiver %d not found", ErrValidation, targetReceiverID)
		}
		if err != nil {
			return err
		}
		if !target.Active {
			return fmt.Errorf("%w: target receiver %d is not active", ErrValidation, targetReceiverID)
		}
		if c.ReceiverID != nil && *c.ReceiverID == target.ID {
			return fmt.Errorf("%w: case %d is already assigned to receiver %d", ErrValidation, caseID, target.ID)
		}
		actor, err := actorName(ctx, tx, actingUserID)
		if err != nil {
			return err
		}
		now := e.now()
		if err := tx.AssignCase(ctx, c.ID, target.ID, now); err != nil {
			return err
		}
		rec, err = tx.AppendRecord(ctx, AllocationRecord{
			CaseID:               c.ID,
			PreviousReceiverID:   c.ReceiverID,
			NewReceiverID:        target.ID,
			AllocatedBy:          actor,
			Reason:               reason,
			AllocatedAt:          now,
			PreviousReceiverName: c.ReceiverName,
		})
		return err
	})
	if err != nil {
		obs.ObserveAllocation("manual", outcomeOf(err), time.Since(start))
		return AllocationRecord{}, e.txError(err)
	}
	obs.ObserveAllocation("manual", "ok", time.Since(start))
	rec.NewReceiverName = target.Name

	_ = audit.LogEvent(ctx, "allocation.case.reassigned", map[string]any{
		"case_id":              c.ID,
		"record_id":            rec.ID,
		"previous_receiver_id": rec.PreviousReceiverID,
		"receiver_id":          target.ID,
		"allocated_by":         rec.AllocatedBy,
		"reason":               reason,
	})
	if target.ID != actingUserID {
		e.dispatch(ctx, []notification{e.allocatedJob(target, c)})
	}
	return rec, nil
}

// GetAllocationHistory returns the case's records oldest first.
func (e *Engine) GetAllocationHistory(ctx context.Context, caseID int64) ([]AllocationRecord, error) {
	if caseID <= 0 {
		return nil, fmt.Errorf("%w: case id must be positive", ErrValidation)
	}
	if _, err := e.store.Case(ctx, caseID); err != nil {
		return nil, e.txError(err)
	}
	recs, err := e.store.History(ctx, caseID)
	if err != nil {
		return nil, e.txError(err)
	}
	if recs == nil {
		recs = []AllocationRecord{}
	}
	return recs, nil
}

// PreviewNext reports who rotation would pick for t right now without committing.
func (e *Engine) PreviewNext(ctx context.Context, t CaseType) (Receiver, error) {
	if !t.Valid() {
		return Receiver{}, fmt.Errorf("%w: unknown case type %q", ErrValidation, t)
	}
	candidates, err := e.resolver.Candidates(ctx, e.store, t)
	if err != nil {
		return Receiver{}, e.txError(err)
	}
	if len(candidates) == 0 {
		return Receiver{}, fmt.Errorf("%w: no active receiver for case type %s", ErrNoEligibleReceiver, t)
	}
	counter, err := e.peekCounter(ctx, e.store, t, 0)
	if err != nil {
		return Receiver{}, e.txError(err)
	}
	return Select(candidates, counter)
}

// Wait blocks until every dispatched notification has finished.
func (e *Engine) Wait() { e.pending.Wait() }

// Close waits for in-flight notifications or gives up when ctx ends.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// choose resolves the receiver for decision d inside tx.
// reloadCreator reads the creator again under the transaction so that a
// role change or deactivation committed after the first read is honored.
func (e *Engine) reloadCreator(ctx context.Context, tx Tx, prev Receiver) (Receiver, error) {
	creator, err := tx.Receiver(ctx, prev.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: creator %d not found", ErrValidation, prev.ID)
		}
		return Receiver{}, err
	}
	if creator.Role != prev.Role {
		return Receiver{}, fmt.Errorf("%w: creator %d changed role to %s", ErrValidation, creator.ID, creator.Role)
	}
	return creator, nil
}

func (e *Engine) choose(ctx context.Context, tx Tx, d Decision, t CaseType, creator Receiver, excludeCaseID int64) (Receiver, string, error) {
	switch d.Action {
	case ActionSelfAssign:
		if !creator.Active {
			return Receiver{}, "", fmt.Errorf("%w: creator %d is inactive", ErrValidation, creator.ID)
		}
		return creator, reasonSelfAssign, nil
	case ActionRotate:
	default:
		return Receiver{}, "", fmt.Errorf("%w: %s", ErrAuthorization, d.Reason)
	}
	candidates, err := e.resolver.Candidates(ctx, tx, t)
	if err != nil {
		return Receiver{}, "", err
	}
	if len(candidates) == 0 {
		// Developer-transfer cases fall back to the creator instead of failing.
		if FamilyOf(t) == FamilyDeveloperTransfer {
			return creator, reasonFallback, nil
		}
		return Receiver{}, "", fmt.Errorf("%w: no active receiver for case type %s", ErrNoEligibleReceiver, t)
	}
	counter, err := e.nextCounter(ctx, tx, t, excludeCaseID)
	if err != nil {
		return Receiver{}, "", err
	}
	rc, err := Select(candidates, counter)
	return rc, reasonRotation, err
}

func (e *Engine) nextCounter(ctx context.Context, tx Tx, t CaseType, excludeCaseID int64) (int64, error) {
	if e.strategy == StrategyCursor {
		return tx.AdvanceCursor(ctx, FamilyOf(t))
	}
	return e.peekCounter(ctx, tx, t, excludeCaseID)
}

func (e *Engine) peekCounter(ctx context.Context, r Reader, t CaseType, excludeCaseID int64) (int64, error) {
	if e.strategy == StrategyCursor {
		return r.PeekCursor(ctx, FamilyOf(t))
	}
	q := counterQuery(e.strategy, t, e.now(), e.window, e.loc)
	q.ExcludeCaseID = excludeCaseID
	return r.CountCases(ctx, q)
}

func (e *Engine) reject(ctx context.Context, role Role, t CaseType, d Decision, start time.Time) error {
	obs.ObserveAllocation(string(ActionReject), "rejected", time.Since(start))
	_ = audit.LogEvent(ctx, "allocation.rejected", map[string]any{
		"creator_role": string(role),
		"case_type":    string(t),
		"reason":       d.Reason,
	})
	return fmt.Errorf("%w: %s", ErrAuthorization, d.Reason)
}

// txError keeps domain errors as they are and marks everything else as a
// failed transaction.
func (e *Engine) txError(err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}

func actorName(ctx context.Context, r Reader, userID int64) (string, error) {
	if userID <= 0 {
		return SystemActor, nil
	}
	u, err := r.Receiver(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return SystemActor, nil
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(u.Name) == "" {
		return SystemActor, nil
	}
	return u.Name, nil
}

func rotationLockKey(f Family) string { return "rotation:" + string(f) }

func caseLockKey(id int64) string { return fmt.Sprintf("case:%d", id) }

func decisionLabel(d Decision, reason string) string {
	if reason == reasonFallback {
		return "fallback"
	}
	return string(d.Action)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAuthorization):
		return "rejected"
	case errors.Is(err, ErrNoEligibleReceiver):
		return "no_receiver"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func normalizeDraft(d CaseDraft) CaseDraft {
	d.Number = strings.TrimSpace(d.Number)
	d.Type = CaseType(strings.ToLower(strings.TrimSpace(string(d.Type))))
	d.RequestingParty = strings.TrimSpace(d.RequestingParty)
	d.Agent = strings.TrimSpace(d.Agent)
	d.Contact = strings.TrimSpace(d.Contact)
	d.Description = strings.TrimSpace(d.Description)
	return d
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (e *Engine) validateDraft(d CaseDraft) error {
	if err := e.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown case type %q", ErrValidation, d.Type)
	}
	return nil
}
