package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// TransactionRepo owns the settlement ledger and the operator
// reconciliation queue. Ledger rows are insert-only.
type TransactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) CreateLedgerEntry(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(request_ref, from_party, to_party, amount, token, chain, tx_hash, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		tx.RequestRef, tx.From, tx.To, tx.Amount, tx.Token, tx.Chain, tx.TxHash, tx.Type,
	).Scan(&tx.ID, &tx.CreatedAt)
}

func (r *TransactionRepo) ListByParty(ctx context.Context, party string, limit, offset int) ([]domain.Transaction, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM transactions WHERE from_party = $1 OR to_party = $1`
	if err := r.db.QueryRow(ctx, countQuery, party).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, request_ref, from_party, to_party, amount, token, chain, tx_hash, type, created_at
		FROM transactions
		WHERE from_party = $1 OR to_party = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, party, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.RequestRef, &tx.From, &tx.To, &tx.Amount,
			&tx.Token, &tx.Chain, &tx.TxHash, &tx.Type, &tx.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}
	return txs, total, rows.Err()
}

func (r *TransactionRepo) CreateReconciliation(ctx context.Context, entry *domain.ReconciliationEntry) error {
	query := `
		INSERT INTO reconciliations
		(request_ref, phone_number, flow_type, failed_leg, debit_tx_hash, amount, chain, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		entry.RequestRef, entry.PhoneNumber, entry.FlowType, entry.FailedLeg,
		entry.DebitTxHash, entry.Amount, entry.Chain, entry.Detail,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *TransactionRepo) ListOpenReconciliations(ctx context.Context, limit int) ([]domain.ReconciliationEntry, error) {
	query := `
		SELECT id, request_ref, phone_number, flow_type, failed_leg, debit_tx_hash,
		       amount, chain, detail, resolved, created_at, resolved_at
		FROM reconciliations
		WHERE resolved = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ReconciliationEntry
	for rows.Next() {
		var e domain.ReconciliationEntry
		if err := rows.Scan(
			&e.ID, &e.RequestRef, &e.PhoneNumber, &e.FlowType, &e.FailedLeg,
			&e.DebitTxHash, &e.Amount, &e.Chain, &e.Detail, &e.Resolved,
			&e.CreatedAt, &e.ResolvedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *TransactionRepo) ResolveReconciliation(ctx context.Context, id int64) error {
	query := `UPDATE reconciliations SET resolved = TRUE, resolved_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
