package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenthands/canon/internal/apperr"
)

const (
	pgSelectAccountForUpdate = `
		SELECT user_id, tier, credits, monthly_allotment, credits_reset_at, updated_at
		FROM credit_accounts
		WHERE user_id = $1
		FOR UPDATE`

	pgSelectAccount = `
		SELECT user_id, tier, credits, monthly_allotment, credits_reset_at, updated_at
		FROM credit_accounts
		WHERE user_id = $1`

	pgInsertAccount = `
		INSERT INTO credit_accounts (user_id, tier, credits, monthly_allotment, credits_reset_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`

	pgUpdateAccount = `
		UPDATE credit_accounts
		SET tier = $2, credits = $3, monthly_allotment = $4, credits_reset_at = $5, updated_at = $6
		WHERE user_id = $1`

	pgInsertTransaction = `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	pgSelectTransactions = `
		SELECT id::text, user_id, type, amount, balance_after, description, created_at, seq
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`
)

// PostgresStore keeps the ledger in the credit_accounts and
// credit_transactions tables. Row locks (SELECT ... FOR UPDATE) give
// per-account exclusion.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, acct Account, txs []Transaction) (Account, bool, error) {
	var (
		out     Account
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, pgInsertAccount,
			acct.UserID, acct.Tier, acct.Balance, acct.MonthlyAllotment, acct.CreditsResetAt, acct.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			existing, err := scanAccount(tx.QueryRow(ctx, pgSelectAccount, acct.UserID))
			if err != nil {
				return err
			}
			out, created = existing, false
			return nil
		}
		if err := insertPgTransactions(ctx, tx, acct.UserID, txs); err != nil {
			return err
		}
		out, created = acct, true
		return nil
	})
	if err != nil {
		return Account{}, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, fn UpdateFunc) (Account, error) {
	var out Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanAccount(tx.QueryRow(ctx, pgSelectAccountForUpdate, userID))
		if err != nil {
			return err
		}

		working := current
		txs, err := fn(&working)
		if err != nil {
			return err
		}
		working.UserID = userID

		if working != current {
			_, err := tx.Exec(ctx, pgUpdateAccount,
				userID, working.Tier, working.Balance, working.MonthlyAllotment, working.CreditsResetAt, working.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to update account: %w", err)
			}
		}
		if err := insertPgTransactions(ctx, tx, userID, txs); err != nil {
			return err
		}
		out = working
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, pgSelectTransactions, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t   Transaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.BalanceAfter, &t.Description, &t.CreatedAt, &t.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = TransactionType(typ)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.UserID, &a.Tier, &a.Balance, &a.MonthlyAllotment, &a.CreditsResetAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, apperr.NotFound("Account")
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	a.CreditsResetAt = a.CreditsResetAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func insertPgTransactions(ctx context.Context, tx pgx.Tx, userID string, txs []Transaction) error {
	for _, t := range txs {
		_, err := tx.Exec(ctx, pgInsertTransaction,
			t.ID, userID, string(t.Type), t.Amount, t.BalanceAfter, t.Description, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append %s transaction: %w", t.Type, err)
		}
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
