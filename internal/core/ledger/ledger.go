// Package ledger owns per-user credit balances and their append-only
// transaction log.
//
// Every mutation, including the lazy monthly reset, runs inside a single
// Store.Update call so it is atomic per account.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/logging"
)

type TransactionType string

const (
	TxUsage             TransactionType = "usage"
	TxPurchase          TransactionType = "purchase"
	TxMonthlyAllocation TransactionType = "monthly_allocation"
	TxRefund            TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxUsage, TxPurchase, TxMonthlyAllocation, TxRefund:
		return true
	}
	return false
}

type Account struct {
	UserID           string    `json:"userId"`
	Tier             string    `json:"tier"`
	Balance          int64     `json:"credits"`
	MonthlyAllotment int64     `json:"monthlyAllotment"`
	CreditsResetAt   time.Time `json:"creditsResetAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Transaction is immutable once written. Amount is signed; BalanceAfter is
// the account balance right after it applied.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balanceAfter"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"createdAt"`
	Seq          int64           `json:"-"`
}

// UpdateFunc mutates the account in place and returns the transactions that
// explain the change. Returning an error aborts the update with nothing
// written.
type UpdateFunc func(acct *Account) ([]Transaction, error)

type Store interface {
	// Create inserts acct with its opening transactions. When the account
	// already exists it is returned unchanged with created=false.
	Create(ctx context.Context, acct Account, txs []Transaction) (Account, bool, error)
	// Update runs fn against the latest committed state of the account
	// while holding exclusive access to it. Missing accounts yield NotFound.
	Update(ctx context.Context, userID string, fn UpdateFunc) (Account, error)
	// History returns the newest transactions first.
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type Ledger struct {
	store  Store
	tiers  TierTable
	now    func() time.Time
	logger *log.Logger
}

func New(store Store, tiers TierTable, logger *log.Logger) *Ledger {
	return &Ledger{
		store:  store,
		tiers:  tiers,
		now:    time.Now,
		logger: logging.OrDiscard(logger),
	}
}

// WithClock replaces the time source; used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// timestamps are stored with millisecond precision
func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

// Open creates the account for a newly registered user, funded with the
// tier's allotment. Opening an existing account returns it as is.
func (l *Ledger) Open(ctx context.Context, userID, tier string) (Account, error) {
	if userID == "" {
		return Account{}, apperr.InvalidInput("user id is required")
	}
	allot, ok := l.tiers.Allotment(tier)
	if !ok {
		return Account{}, apperr.InvalidInput(fmt.Sprintf("unknown tier %q (known: %s)", tier, strings.Join(l.tiers.Names(), ", ")))
	}

	now := l.clock()
	acct := Account{
		UserID:           userID,
		Tier:             tier,
		Balance:          allot,
		MonthlyAllotment: allot,
		CreditsResetAt:   nextReset(now),
		UpdatedAt:        now,
	}
	opening := newTx(userID, TxMonthlyAllocation, allot, allot, "Opening allotment ("+tier+")", now)

	_, created, err := l.store.Create(ctx, acct, []Transaction{opening})
	if err != nil {
		return Account{}, fmt.Errorf("failed to open account %s: %w", userID, err)
	}
	if created {
		l.logger.Info("credit account opened", "user", userID, "tier", tier, "credits", allot)
	}
	return l.Account(ctx, userID)
}

// Account returns the account after applying any due monthly reset.
func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	now := l.clock()
	var due *Transaction
	acct, err := l.store.Update(ctx, userID, func(acct *Account) ([]Transaction, error) {
		due = l.reset(acct, now)
		return pending(due), nil
	})
	if err != nil {
		return Account{}, err
	}
	l.logReset(acct, due)
	return acct, nil
}

// Debit charges amount credits. When the balance cannot cover it the call
// fails with *apperr.InsufficientCredits and nothing is written, not even a
// due reset.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, apperr.InvalidInput("debit amount must be positive")
	}

	now := l.clock()
	var due *Transaction
	acct, err := l.store.Update(ctx, userID, func(acct *Account) ([]Transaction, error) {
		due = l.reset(acct, now)
		txs := pending(due)
		if acct.Balance < amount {
			return nil, &apperr.InsufficientCredits{Needed: amount, Available: acct.Balance}
		}
		acct.Balance -= amount
		acct.UpdatedAt = now
		return append(txs, newTx(userID, TxUsage, -amount, acct.Balance, description, now)), nil
	})
	if err != nil {
		if ic := apperr.AsInsufficientCredits(err); ic != nil {
			l.logger.Info("debit rejected", "user", userID, "needed", ic.Needed, "available", ic.Available)
		}
		return 0, err
	}
	l.logReset(acct, due)
	return acct.Balance, nil
}

// Credit adds amount credits recorded as typ.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, description string, typ TransactionType) (int64, error) {
	if amount <= 0 {
		return 0, apperr.InvalidInput("credit amount must be positive")
	}
	if !typ.Valid() || typ == TxUsage {
		return 0, apperr.InvalidInput(fmt.Sprintf("invalid credit type %q", typ))
	}

	now := l.clock()
	var due *Transaction
	acct, err := l.store.Update(ctx, userID, func(acct *Account) ([]Transaction, error) {
		due = l.reset(acct, now)
		txs := pending(due)
		if acct.Balance > math.MaxInt64-amount {
			return nil, apperr.InvalidInput("credit would overflow the balance")
		}
		acct.Balance += amount
		acct.UpdatedAt = now
		return append(txs, newTx(userID, typ, amount, acct.Balance, description, now)), nil
	})
	if err != nil {
		return 0, err
	}
	l.logReset(acct, due)
	l.logger.Info("credits granted", "user", userID, "amount", amount, "type", typ, "balance", acct.Balance)
	return acct.Balance, nil
}

// History returns up to limit transactions, newest first. limit <= 0 means
// the default; it is capped at MaxHistoryLimit.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	txs, err := l.store.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit history for %s: %w", userID, err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}

// reset applies the lazy monthly reset when due. The balance is set to the
// allotment, not topped up, and the next reset is one month from now. The
// jump is logged as a signed monthly_allocation so the balance stays equal
// to the sum of the log. It runs inside an UpdateFunc, which a store may
// retry, so it never logs; callers report the reset once it is committed.
func (l *Ledger) reset(acct *Account, now time.Time) *Transaction {
	if now.Before(acct.CreditsResetAt) {
		return nil
	}

	allot := acct.MonthlyAllotment
	if a, ok := l.tiers.Allotment(acct.Tier); ok {
		allot = a
	}
	delta := allot - acct.Balance

	acct.Balance = allot
	acct.MonthlyAllotment = allot
	acct.CreditsResetAt = nextReset(now)
	acct.UpdatedAt = now

	tx := newTx(acct.UserID, TxMonthlyAllocation, delta, allot, "Monthly credit reset ("+acct.Tier+")", now)
	return &tx
}

func (l *Ledger) logReset(acct Account, tx *Transaction) {
	if tx == nil {
		return
	}
	l.logger.Info("monthly credits reset", "user", acct.UserID, "tier", acct.Tier, "from", tx.BalanceAfter-tx.Amount, "to", tx.BalanceAfter)
}

func pending(tx *Transaction) []Transaction {
	if tx == nil {
		return nil
	}
	return []Transaction{*tx}
}

func nextReset(now time.Time) time.Time {
	return now.AddDate(0, 1, 0)
}

func newTx(userID string, typ TransactionType, amount, balanceAfter int64, description string, at time.Time) Transaction {
	return Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		CreatedAt:    at,
	}
}
