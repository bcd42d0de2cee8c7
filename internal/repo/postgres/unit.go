package postgres

import (
	"context"
	"database/sql"

	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

// TxRunner implements repo.Tx over a *sql.DB, handing fn stores bound to a
// single transaction.
type TxRunner struct {
	db *sql.DB
}

func NewTxRunner(db *sql.DB) *TxRunner {
	if db == nil {
		return nil
	}
	return &TxRunner{db: db}
}

func (r *TxRunner) Within(ctx context.Context, fn func(repo.Stores) error) error {
	return WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(NewStores(tx))
	})
}

// NewStores builds the full store set over one DB handle. Pass a *sql.Tx for
// transactional writes or a *sql.DB for standalone reads.
func NewStores(db DB) repo.Stores {
	return repo.Stores{
		Requests:    NewRequestStore(db),
		Plans:       NewPlanStore(db),
		Outcomes:    NewOutcomeStore(db),
		Delegations: NewDelegationStore(db),
		Runs:        NewRunStore(db),
		ActionLog:   NewActionLogStore(db),
	}
}
