package ledger

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/driver"
)

// seqStride leaves room for the transactions of one update under a single
// ledger version.
const seqStride = 1 << 8

// GraphStore keeps accounts on (:User) nodes and transactions as
// (:CreditTransaction) nodes in the graph store.
type GraphStore struct {
	driver driver.GraphDriver
}

func NewGraphStore(d driver.GraphDriver) *GraphStore {
	return &GraphStore{driver: d}
}

// Create relies on the unique constraint on :User(id): when a concurrent
// first use commits the node first, this write is rejected and the winner's
// account is returned instead.
func (s *GraphStore) Create(ctx context.Context, acct Account, txs []Transaction) (Account, bool, error) {
	var (
		out     Account
		created bool
	)
	err := s.driver.ExecuteWrite(ctx, func(tx driver.Tx) error {
		records, err := tx.Run(ctx, driver.LockAccountQuery, map[string]interface{}{"user_id": acct.UserID})
		if err != nil {
			return err
		}
		if len(records) > 0 {
			out, created = decodeAccount(records[0]), false
			return nil
		}

		if _, err := tx.Run(ctx, driver.CreateAccountQuery, accountParams(acct)); err != nil {
			return err
		}
		if err := insertTransactions(ctx, tx, acct.UserID, 0, txs); err != nil {
			return err
		}
		out, created = acct, true
		return nil
	})
	if driver.IsConstraintViolation(err) {
		existing, rerr := s.existing(ctx, acct.UserID)
		if rerr != nil {
			return Account{}, false, fmt.Errorf("failed to read account after conflicting create: %w", rerr)
		}
		return existing, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to create account: %w", err)
	}
	return out, created, nil
}

func (s *GraphStore) existing(ctx context.Context, userID string) (Account, error) {
	var out Account
	err := s.driver.ExecuteWrite(ctx, func(tx driver.Tx) error {
		records, err := tx.Run(ctx, driver.LockAccountQuery, map[string]interface{}{"user_id": userID})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return apperr.NotFound("Account")
		}
		out = decodeAccount(records[0])
		return nil
	})
	return out, err
}

// Update takes the node's write lock before reading the balance by bumping
// ledger_version, so concurrent updates of one account serialize.
func (s *GraphStore) Update(ctx context.Context, userID string, fn UpdateFunc) (Account, error) {
	var out Account
	err := s.driver.ExecuteWrite(ctx, func(tx driver.Tx) error {
		records, err := tx.Run(ctx, driver.LockAccountQuery, map[string]interface{}{"user_id": userID})
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		if len(records) == 0 {
			return apperr.NotFound("Account")
		}

		current := decodeAccount(records[0])
		version := driver.Int64(records[0], "version")

		working := current
		txs, err := fn(&working)
		if err != nil {
			return err
		}
		working.UserID = userID

		if working != current {
			if _, err := tx.Run(ctx, driver.UpdateAccountQuery, accountParams(working)); err != nil {
				return fmt.Errorf("failed to update account: %w", err)
			}
		}
		if err := insertTransactions(ctx, tx, userID, version*seqStride, txs); err != nil {
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

func (s *GraphStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	res, err := s.driver.ExecuteQuery(ctx, driver.GetTransactionsQuery, map[string]interface{}{
		"user_id": userID,
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, Transaction{
			ID:           driver.String(rec, "id"),
			UserID:       driver.String(rec, "user_id"),
			Type:         TransactionType(driver.String(rec, "type")),
			Amount:       driver.Int64(rec, "amount"),
			BalanceAfter: driver.Int64(rec, "balance_after"),
			Description:  driver.String(rec, "description"),
			CreatedAt:    driver.Time(rec, "created_at"),
			Seq:          driver.Int64(rec, "seq"),
		})
	}
	return out, nil
}

func insertTransactions(ctx context.Context, tx driver.Tx, userID string, seqBase int64, txs []Transaction) error {
	for i, t := range txs {
		_, err := tx.Run(ctx, driver.InsertTransactionQuery, map[string]interface{}{
			"id":            t.ID,
			"user_id":       userID,
			"type":          string(t.Type),
			"amount":        t.Amount,
			"balance_after": t.BalanceAfter,
			"description":   t.Description,
			"created_at":    driver.Millis(t.CreatedAt),
			"seq":           seqBase + int64(i),
		})
		if err != nil {
			return fmt.Errorf("failed to append %s transaction: %w", t.Type, err)
		}
	}
	return nil
}

func accountParams(a Account) map[string]interface{} {
	return map[string]interface{}{
		"user_id":           a.UserID,
		"tier":              a.Tier,
		"credits":           a.Balance,
		"monthly_allotment": a.MonthlyAllotment,
		"credits_reset_at":  driver.Millis(a.CreditsResetAt),
		"updated_at":        driver.Millis(a.UpdatedAt),
	}
}

func decodeAccount(rec *neo4j.Record) Account {
	return Account{
		UserID:           driver.String(rec, "user_id"),
		Tier:             driver.String(rec, "tier"),
		Balance:          driver.Int64(rec, "credits"),
		MonthlyAllotment: driver.Int64(rec, "monthly_allotment"),
		CreditsResetAt:   driver.Time(rec, "credits_reset_at"),
		UpdatedAt:        driver.Time(rec, "updated_at"),
	}
}

var _ Store = (*GraphStore)(nil)
