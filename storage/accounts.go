package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// GetAccount fetches one account by public key.
func (s *Store) GetAccount(pubkey string) (*Account, error) {
	if pubkey == "" {
		return nil, errors.New("pubkey is required")
	}

	var account Account
	err := s.db.Get(&account,
		`SELECT pubkey, owner, lamports, data, slot, created_at
		FROM accounts
		WHERE pubkey = ?`,
		pubkey,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account %q: %w", pubkey, err)
	}
	return &account, nil
}

// Balance returns an account's lamports, zero for unknown accounts.
func (s *Store) Balance(pubkey string) (int64, error) {
	account, err := s.GetAccount(pubkey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Lamports, nil
}

// ProgramAccounts returns all accounts owned by owner in slot order.
func (s *Store) ProgramAccounts(owner string) ([]Account, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}

	accounts := make([]Account, 0)
	if err := s.db.Select(&accounts,
		`SELECT pubkey, owner, lamports, data, slot, created_at
		FROM accounts
		WHERE owner = ?
		ORDER BY slot ASC, pubkey ASC`,
		owner,
	); err != nil {
		return nil, fmt.Errorf("list accounts owned by %q: %w", owner, err)
	}

	return accounts, nil
}

// CurrentSlot returns the last assigned slot.
func (s *Store) CurrentSlot() (int64, error) {
	var slot int64
	if err := s.db.Get(&slot, `SELECT slot FROM ledger_state WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("read current slot: %w", err)
	}
	return slot, nil
}

func nextSlot(tx *sqlx.Tx) (int64, error) {
	if _, err := tx.Exec(`UPDATE ledger_state SET slot = slot + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("advance slot: %w", err)
	}
	var slot int64
	if err := tx.Get(&slot, `SELECT slot FROM ledger_state WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("read advanced slot: %w", err)
	}
	return slot, nil
}

// debit removes lamports from pubkey. A missing or short account fails with
// ErrInsufficientFunds and is left untouched.
func debit(tx *sqlx.Tx, pubkey string, lamports int64) error {
	if lamports == 0 {
		return nil
	}

	result, err := tx.Exec(
		`UPDATE accounts SET lamports = lamports - ? WHERE pubkey = ? AND lamports >= ?`,
		lamports,
		pubkey,
		lamports,
	)
	if err != nil {
		return fmt.Errorf("debit %q: %w", pubkey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit %q: %w", pubkey, err)
	}
	if affected != 1 {
		return ErrInsufficientFunds
	}
	return nil
}

// credit adds lamports to pubkey, creating a system-owned account on first use.
func credit(tx *sqlx.Tx, pubkey string, lamports, slot, now int64) error {
	if _, err := tx.Exec(
		`INSERT INTO accounts (pubkey, owner, lamports, data, slot, created_at)
		VALUES (?, ?, ?, NULL, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET lamports = accounts.lamports + excluded.lamports`,
		pubkey,
		SystemOwner,
		lamports,
		slot,
		now,
	); err != nil {
		return fmt.Errorf("credit %q: %w", pubkey, err)
	}
	return nil
}
