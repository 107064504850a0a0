// Package access owns the permission state: the immutable owner, the
// current regulator and the authorized-investigator set. Every other
// component asks this registry its authorization questions.
package access

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"foodsafety/common"
	"foodsafety/events"
	"foodsafety/models"
)

type Registry struct {
	db     *sql.DB
	events *events.Log
	mu     *sync.Mutex
}

func NewRegistry(db *sql.DB, evs *events.Log, mu *sync.Mutex) *Registry {
	return &Registry{db: db, events: evs, mu: mu}
}

// Owner returns the system owner, set once at creation.
func (r *Registry) Owner(ctx context.Context) (ethcommon.Address, error) {
	var owner string
	row := r.db.QueryRowContext(ctx, `SELECT owner FROM access_state WHERE id = 1`)
	if err := row.Scan(&owner); err != nil {
		return ethcommon.Address{}, fmt.Errorf("reading access state: %w", err)
	}
	return ethcommon.HexToAddress(owner), nil
}

func (r *Registry) Regulator(ctx context.Context) (ethcommon.Address, error) {
	var regulator string
	row := r.db.QueryRowContext(ctx, `SELECT regulator FROM access_state WHERE id = 1`)
	if err := row.Scan(&regulator); err != nil {
		return ethcommon.Address{}, fmt.Errorf("reading access state: %w", err)
	}
	return ethcommon.HexToAddress(regulator), nil
}

func (r *Registry) IsOwner(ctx context.Context, addr ethcommon.Address) (bool, error) {
	owner, err := r.Owner(ctx)
	if err != nil {
		return false, err
	}
	return owner == addr, nil
}

func (r *Registry) IsRegulator(ctx context.Context, addr ethcommon.Address) (bool, error) {
	regulator, err := r.Regulator(ctx)
	if err != nil {
		return false, err
	}
	return regulator == addr, nil
}

func (r *Registry) IsAuthorizedInvestigator(ctx context.Context, addr ethcommon.Address) (bool, error) {
	var count int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM investigators WHERE address = ?`, addr.Hex())
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("reading investigator set: %w", err)
	}
	return count > 0, nil
}

// RequireOwner returns an AuthorizationError unless caller is the owner.
func (r *Registry) RequireOwner(ctx context.Context, caller ethcommon.Address) error {
	ok, err := r.IsOwner(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewAuthorizationError(fmt.Sprintf("%s is not the owner", caller.Hex()))
	}
	return nil
}

// RequireRegulator returns an AuthorizationError unless caller is the
// regulator.
func (r *Registry) RequireRegulator(ctx context.Context, caller ethcommon.Address) error {
	ok, err := r.IsRegulator(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewAuthorizationError(fmt.Sprintf("%s is not the regulator", caller.Hex()))
	}
	return nil
}

// SetRegulator replaces the regulator. Owner only; setting the current
// regulator again is a successful no-op.
func (r *Registry) SetRegulator(ctx context.Context, caller, newRegulator ethcommon.Address) error {
	if err := r.RequireOwner(ctx, caller); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Regulator(ctx)
	if err != nil {
		return err
	}
	if current == newRegulator {
		return nil
	}

	res, err := r.db.ExecContext(ctx, `UPDATE access_state SET regulator = ? WHERE id = 1`, newRegulator.Hex())
	common.LogResult("SetRegulator", res, err, true)
	if err != nil {
		return fmt.Errorf("updating regulator: %w", err)
	}

	log.Infof("Regulator changed from %s to %s", current.Hex(), newRegulator.Hex())
	return nil
}

// AuthorizeInvestigator adds an identity to the investigator set. Regulator
// only; idempotent, with the membership event emitted only when membership
// actually changes.
func (r *Registry) AuthorizeInvestigator(ctx context.Context, caller, investigator ethcommon.Address) error {
	if err := r.RequireRegulator(ctx, caller); err != nil {
		return err
	}
	if investigator == models.NullAddress {
		return models.NewValidationError("cannot authorize the null identity")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT IGNORE INTO investigators (address, authorized_at) VALUES (?, ?)`,
		investigator.Hex(), now)
	if err != nil {
		return fmt.Errorf("authorizing investigator: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Already authorized: succeed without duplicate side effects.
		return tx.Commit()
	}

	if err := r.events.Append(tx, &events.Event{
		Kind:      events.KindInvestigatorAuthorized,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"investigator":%q}`, investigator.Hex()),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeInvestigator removes an identity from the investigator set.
// Regulator only; revoking a non-member is a successful no-op.
func (r *Registry) RevokeInvestigator(ctx context.Context, caller, investigator ethcommon.Address) error {
	if err := r.RequireRegulator(ctx, caller); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM investigators WHERE address = ?`, investigator.Hex())
	if err != nil {
		return fmt.Errorf("revoking investigator: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tx.Commit()
	}

	if err := r.events.Append(tx, &events.Event{
		Kind:      events.KindInvestigatorRevoked,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"investigator":%q}`, investigator.Hex()),
		CreatedAt: time.Now().Unix(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
