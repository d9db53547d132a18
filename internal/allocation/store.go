package allocation

import (
	"context"
	"time"
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	Roster
	Receiver(ctx context.Context, id int64) (Receiver, error)
	Case(ctx context.Context, id int64) (Case, error)
	// CountCases counts committed cases matching q.
	CountCases(ctx context.Context, q CounterQuery) (int64, error)
	PeekCursor(ctx context.Context, bucket Family) (int64, error)
}

// Tx is one unit of work. Writes become visible only if WithinTx commits.
type Tx interface {
	Reader
	// LockCase loads a case and holds it until the transaction ends.
	LockCase(ctx context.Context, id int64) (Case, error)
	InsertCase(ctx context.Context, c Case) (Case, error)
	// AssignCase sets the receiver; completed_at is set only if still empty.
	AssignCase(ctx context.Context, caseID, receiverID int64, at time.Time) error
	AppendRecord(ctx context.Context, rec AllocationRecord) (AllocationRecord, error)
	// AdvanceCursor returns the current bucket cursor and persists cursor+1.
	AdvanceCursor(ctx context.Context, bucket Family) (int64, error)
}

// Store is the relational datastore behind the engine.
type Store interface {
	Reader
	// WithinTx runs fn in one transaction serialized on lockKey. Any error rolls back.
	WithinTx(ctx context.Context, lockKey string, fn func(Tx) error) error
	// History returns a case's records in insertion order with receiver names.
	History(ctx context.Context, caseID int64) ([]AllocationRecord, error)
}
