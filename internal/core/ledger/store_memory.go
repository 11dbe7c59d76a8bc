package ledger

import (
	"context"
	"sync"

	"github.com/agenthands/canon/internal/apperr"
)

// MemoryStore keeps accounts in process. Suitable for tests and single
// instance development setups.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	txs      map[string][]Transaction
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]Account{},
		txs:      map[string][]Transaction{},
	}
}

func (s *MemoryStore) Create(ctx context.Context, acct Account, txs []Transaction) (Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[acct.UserID]; ok {
		return existing, false, nil
	}
	s.accounts[acct.UserID] = acct
	s.append(acct.UserID, txs)
	return acct, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, fn UpdateFunc) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[userID]
	if !ok {
		return Account{}, apperr.NotFound("Account")
	}

	working := current
	txs, err := fn(&working)
	if err != nil {
		return Account{}, err
	}

	working.UserID = userID
	s.accounts[userID] = working
	s.append(userID, txs)
	return working, nil
}

func (s *MemoryStore) append(userID string, txs []Transaction) {
	for _, tx := range txs {
		s.seq++
		tx.Seq = s.seq
		tx.UserID = userID
		s.txs[userID] = append(s.txs[userID], tx)
	}
}

func (s *MemoryStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.txs[userID]
	out := make([]Transaction, 0, min(limit, len(all)))
	// appended in commit order, so newest is last
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
