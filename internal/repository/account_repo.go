package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// AccountRepo reads accounts and merchant accounts. Account creation
// happens at registration, outside this service; the only write exposed
// here is the wallet-unification flag.
type AccountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `
	id, phone_number, wallet_address, signing_key, default_chain, is_unified, created_at, updated_at
`

func (r *AccountRepo) scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.PhoneNumber, &a.WalletAddress, &a.SigningKey,
		&a.DefaultChain, &a.IsUnified, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE phone_number = $1`
	return r.scanAccount(r.db.QueryRow(ctx, query, phone))
}

func (r *AccountRepo) GetByWallet(ctx context.Context, walletAddress string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE wallet_address = $1`
	return r.scanAccount(r.db.QueryRow(ctx, query, walletAddress))
}

func (r *AccountRepo) MarkUnified(ctx context.Context, id int64) error {
	query := `UPDATE accounts SET is_unified = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *AccountRepo) GetMerchant(ctx context.Context, merchantID string) (*domain.MerchantAccount, error) {
	query := `
		SELECT id, merchant_id, business_name, owner_id, phone_number,
		       wallet_address, signing_key, default_chain, created_at
		FROM merchant_accounts
		WHERE merchant_id = $1
	`
	var m domain.MerchantAccount
	err := r.db.QueryRow(ctx, query, merchantID).Scan(
		&m.ID, &m.MerchantID, &m.BusinessName, &m.OwnerID, &m.PhoneNumber,
		&m.WalletAddress, &m.SigningKey, &m.DefaultChain, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
