package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

type transaction struct {
	undo     []func(*state)
	releases []func()
	rows     map[uuid.UUID]struct{}
}

func (tx *transaction) holdsRow(id uuid.UUID) bool {
	_, held := tx.rows[id]
	return held
}

// recordUndo registers the inverse of a mutation. The caller holds the write lock.
func (r *Repository) recordUndo(fn func(*state)) {
	if r.tx == nil {
		return
	}
	r.tx.undo = append(r.tx.undo, fn)
}

func (r *Repository) WithinTx(ctx context.Context, fn func(tx simpleupload.Repository) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &transaction{rows: make(map[uuid.UUID]struct{})}
	view := &Repository{state: r.state, slots: r.slots, rows: r.rows, tx: tx}

	defer func() {
		if p := recover(); p != nil {
			r.rollback(tx)
			tx.release()
			panic(p)
		}
		if err != nil {
			r.rollback(tx)
		}
		tx.release()
	}()

	return fn(view)
}

func (r *Repository) rollback(tx *transaction) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](r.state)
	}
	tx.undo = nil
}

func (tx *transaction) release() {
	for i := len(tx.releases) - 1; i >= 0; i-- {
		tx.releases[i]()
	}
	tx.releases = nil
}

func (r *Repository) LockUploadSlot(ctx context.Context, submissionID uuid.UUID, filename string) error {
	if r.tx == nil {
		return errLockOutsideTx
	}

	release, err := r.slots.acquire(ctx, submissionID.String()+"/"+filename)
	if err != nil {
		return err
	}
	r.tx.releases = append(r.tx.releases, release)
	return nil
}

// lockRow waits for the row lock on id. Inside a transaction the lock is kept
// until the transaction ends and the returned release does nothing.
func (r *Repository) lockRow(ctx context.Context, id uuid.UUID) (func(), error) {
	if r.tx == nil {
		return r.rows.acquire(ctx, id.String())
	}
	if r.tx.holdsRow(id) {
		return func() {}, nil
	}

	release, err := r.rows.acquire(ctx, id.String())
	if err != nil {
		return nil, err
	}
	r.tx.rows[id] = struct{}{}
	r.tx.releases = append(r.tx.releases, release)
	return func() {}, nil
}
