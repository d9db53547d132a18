package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"intake.org/internal/allocation"
	"intake.org/internal/notify"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db *sql.DB
}

var (
	_ allocation.Store     = (*Store)(nil)
	_ notify.MessageWriter = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{reader: reader{q: db}, db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// WithinTx runs fn at read-committed isolation. A non-empty lockKey takes a
// transaction-scoped advisory lock first.
func (s *Store) WithinTx(ctx context.Context, lockKey string, fn func(allocation.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if lockKey != "" {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return mapError(err)
		}
	}
	if err := fn(&pgTx{reader: reader{q: tx}}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// History returns the allocation records of caseID oldest first.
func (s *Store) History(ctx context.Context, caseID int64) ([]allocation.AllocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.case_id, r.previous_receiver_id, r.new_receiver_id, r.allocated_by,
		       r.reason, r.allocated_at, coalesce(pu.name, ''), coalesce(nu.name, '')
		from allocation_records r
		left join users pu on pu.id = r.previous_receiver_id
		left join users nu on nu.id = r.new_receiver_id
		where r.case_id = $1
		order by r.id asc
	`, caseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []allocation.AllocationRecord
	for rows.Next() {
		var (
			rec  allocation.AllocationRecord
			prev sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.CaseID, &prev, &rec.NewReceiverID, &rec.AllocatedBy,
			&rec.Reason, &rec.AllocatedAt, &rec.PreviousReceiverName, &rec.NewReceiverName); err != nil {
			return nil, err
		}
		if prev.Valid {
			v := prev.Int64
			rec.PreviousReceiverID = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMessage stores an unread inbox message.
func (s *Store) SaveMessage(ctx context.Context, m notify.Message) error {
	_, err := s.db.ExecContext(ctx, `
		insert into messages(user_id, title, content, message_type, is_read)
		values ($1, $2, $3, $4, false)
	`, m.UserID, m.Title, m.Content, m.Type)
	return mapError(err)
}

// reader implements allocation.Reader over either the pool or a transaction.
type reader struct {
	q querier
}

func (r reader) ActiveReceivers(ctx context.Context, roles []allocation.Role) ([]allocation.Receiver, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, len(roles))
	marks := make([]string, len(roles))
	for i, role := range roles {
		args[i] = string(role)
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	rows, err := r.q.QueryContext(ctx, `
		select id, name, role, active
		from users
		where active and role in (`+strings.Join(marks, ", ")+`)
		order by id asc
	`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []allocation.Receiver
	for rows.Next() {
		var rc allocation.Receiver
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.Role, &rc.Active); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r reader) Receiver(ctx context.Context, id int64) (allocation.Receiver, error) {
	var rc allocation.Receiver
	err := r.q.QueryRowContext(ctx, `select id, name, role, active from users where id = $1`, id).
		Scan(&rc.ID, &rc.Name, &rc.Role, &rc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Receiver{}, allocation.ErrNotFound
	}
	if err != nil {
		return allocation.Receiver{}, mapError(err)
	}
	return rc, nil
}

const caseColumns = `
	select c.id, c.case_number, c.case_type, c.creator_id, c.created_at, c.receiver_id,
	       coalesce(u.name, ''), c.completed_at, c.requesting_party, c.agent, c.contact, c.description
	from cases c
	left join users u on u.id = c.receiver_id
	where c.id = $1`

func (r reader) Case(ctx context.Context, id int64) (allocation.Case, error) {
	return scanCase(r.q.QueryRowContext(ctx, caseColumns, id))
}

func (r reader) CountCases(ctx context.Context, q allocation.CounterQuery) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if len(q.CaseTypes) > 0 {
		marks := make([]string, len(q.CaseTypes))
		for i, t := range q.CaseTypes {
			args = append(args, string(t))
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "case_type in ("+strings.Join(marks, ", ")+")")
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if q.ExcludeCaseID > 0 {
		args = append(args, q.ExcludeCaseID)
		conds = append(conds, fmt.Sprintf("id <> $%d", len(args)))
	}
	query := `select count(*) from cases`
	if len(conds) > 0 {
		query += ` where ` + strings.Join(conds, " and ")
	}
	var n int64
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (r reader) PeekCursor(ctx context.Context, bucket allocation.Family) (int64, error) {
	var pos int64
	err := r.q.QueryRowContext(ctx, `
		select coalesce((select position from rotation_cursors where bucket = $1), 0)
	`, string(bucket)).Scan(&pos)
	if err != nil {
		return 0, mapError(err)
	}
	return pos, nil
}

// pgTx adds the write side on top of a transaction-bound reader.
type pgTx struct {
	reader
}

func (t *pgTx) LockCase(ctx context.Context, id int64) (allocation.Case, error) {
	return scanCase(t.q.QueryRowContext(ctx, caseColumns+` for update of c`, id))
}

func (t *pgTx) InsertCase(ctx context.Context, c allocation.Case) (allocation.Case, error) {
	err := t.q.QueryRowContext(ctx, `
		insert into cases(case_number, case_type, creator_id, created_at, receiver_id, completed_at,
		                  requesting_party, agent, contact, description)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning id
	`, c.Number, string(c.Type), c.CreatorID, c.CreatedAt, nullInt(c.ReceiverID), nullTime(c.CompletedAt),
		c.RequestingParty, c.Agent, c.Contact, c.Description).Scan(&c.ID)
	if err != nil {
		return allocation.Case{}, mapError(err)
	}
	return c, nil
}

func (t *pgTx) AssignCase(ctx context.Context, caseID, receiverID int64, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		update cases
		set receiver_id = $2, completed_at = $3
		where id = $1
	`, caseID, receiverID, at)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return allocation.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendRecord(ctx context.Context, rec allocation.AllocationRecord) (allocation.AllocationRecord, error) {
	err := t.q.QueryRowContext(ctx, `
		insert into allocation_records(case_id, previous_receiver_id, new_receiver_id, allocated_by, reason, allocated_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, rec.CaseID, nullInt(rec.PreviousReceiverID), rec.NewReceiverID, rec.AllocatedBy, rec.Reason, rec.AllocatedAt).Scan(&rec.ID)
	if err != nil {
		return allocation.AllocationRecord{}, mapError(err)
	}
	return rec, nil
}

func (t *pgTx) AdvanceCursor(ctx context.Context, bucket allocation.Family) (int64, error) {
	var pos int64
	err := t.q.QueryRowContext(ctx, `
		insert into rotation_cursors(bucket, position, updated_at)
		values ($1, 1, now())
		on conflict (bucket) do update
		set position = rotation_cursors.position + 1, updated_at = now()
		returning position - 1
	`, string(bucket)).Scan(&pos)
	if err != nil {
		return 0, mapError(err)
	}
	return pos, nil
}

func scanCase(row *sql.Row) (allocation.Case, error) {
	var (
		c         allocation.Case
		receiver  sql.NullInt64
		completed sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Number, &c.Type, &c.CreatorID, &c.CreatedAt, &receiver,
		&c.ReceiverName, &completed, &c.RequestingParty, &c.Agent, &c.Contact, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Case{}, allocation.ErrNotFound
	}
	if err != nil {
		return allocation.Case{}, mapError(err)
	}
	if receiver.Valid {
		v := receiver.Int64
		c.ReceiverID = &v
	}
	if completed.Valid {
		v := completed.Time
		c.CompletedAt = &v
	}
	return c, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
