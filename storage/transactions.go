package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ApplyTransfer moves lamports, records the transaction and materialises the memo record
// account in one SQLite transaction. It returns the slot the transfer landed in.
func (s *Store) ApplyTransfer(transfer Transfer) (int64, error) {
	if strings.TrimSpace(transfer.Signature) == "" {
		return 0, errors.New("signature is required")
	}
	if strings.TrimSpace(transfer.Payer) == "" {
		return 0, errors.New("payer is required")
	}
	if strings.TrimSpace(transfer.Recipient) == "" {
		return 0, errors.New("recipient is required")
	}
	if transfer.Lamports < 0 {
		return 0, errors.New("lamports must be >= 0")
	}
	rewrite := len(transfer.RecordData) > 0
	materialise := !rewrite && len(transfer.Memo) > 0 && transfer.RecordOwner != ""
	if rewrite && transfer.RecordOwner == "" {
		return 0, errors.New("record_owner is required when record data is set")
	}
	if (materialise || rewrite) && transfer.RecordAccount == "" {
		return 0, errors.New("record_account is required when a record owner is set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin transfer %q: %w", transfer.Signature, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	seen, err := hasTransaction(tx, transfer.Signature)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, ErrDuplicateTransaction
	}

	var balance int64
	err = tx.Get(&balance, `SELECT lamports FROM accounts WHERE pubkey = ?`, transfer.Payer)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read payer balance: %w", err)
	}
	if balance < transfer.Lamports {
		return 0, ErrInsufficientFunds
	}

	slot, err := nextSlot(tx)
	if err != nil {
		return 0, err
	}
	now := nowUnixMilli()

	if err := debit(tx, transfer.Payer, transfer.Lamports); err != nil {
		return 0, err
	}
	if err := credit(tx, transfer.Recipient, transfer.Lamports, slot, now); err != nil {
		return 0, err
	}

	var recordAccount *string
	switch {
	case rewrite:
		if err := rewriteRecord(tx, transfer.RecordAccount, transfer.RecordOwner, transfer.RecordData); err != nil {
			return 0, err
		}
		recordAccount = &transfer.RecordAccount
	case materialise:
		if _, err := tx.Exec(
			`INSERT INTO accounts (pubkey, owner, lamports, data, slot, created_at)
			VALUES (?, ?, 0, ?, ?, ?)`,
			transfer.RecordAccount,
			transfer.RecordOwner,
			transfer.Memo,
			slot,
			now,
		); err != nil {
			return 0, fmt.Errorf("create record account %q: %w", transfer.RecordAccount, err)
		}
		recordAccount = &transfer.RecordAccount
	}

	if _, err := tx.NamedExec(
		`INSERT INTO transactions (
			signature,
			payer,
			recipient,
			lamports,
			memo,
			record_account,
			slot,
			created_at
		) VALUES (:signature, :payer, :recipient, :lamports, :memo, :record_account, :slot, :created_at)`,
		Transaction{
			Signature:     transfer.Signature,
			Payer:         transfer.Payer,
			Recipient:     transfer.Recipient,
			Lamports:      transfer.Lamports,
			Memo:          transfer.Memo,
			RecordAccount: recordAccount,
			Slot:          slot,
			CreatedAt:     now,
		},
	); err != nil {
		return 0, fmt.Errorf("insert transaction %q: %w", transfer.Signature, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transfer %q: %w", transfer.Signature, err)
	}
	return slot, nil
}

// Airdrop credits lamports to an account and records a faucet transaction.
func (s *Store) Airdrop(signature, pubkey string, lamports int64) (int64, error) {
	if strings.TrimSpace(signature) == "" {
		return 0, errors.New("signature is required")
	}
	if strings.TrimSpace(pubkey) == "" {
		return 0, errors.New("pubkey is required")
	}
	if lamports <= 0 {
		return 0, errors.New("lamports must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin airdrop: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	seen, err := hasTransaction(tx, signature)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, ErrDuplicateTransaction
	}

	slot, err := nextSlot(tx)
	if err != nil {
		return 0, err
	}
	now := nowUnixMilli()

	if err := credit(tx, pubkey, lamports, slot, now); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		`INSERT INTO transactions (signature, payer, recipient, lamports, memo, record_account, slot, created_at)
		VALUES (?, ?, ?, ?, NULL, NULL, ?, ?)`,
		signature,
		FaucetPayer,
		pubkey,
		lamports,
		slot,
		now,
	); err != nil {
		return 0, fmt.Errorf("insert airdrop %q: %w", signature, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit airdrop %q: %w", signature, err)
	}
	return slot, nil
}

// GetTransaction fetches one applied transaction by signature.
func (s *Store) GetTransaction(signature string) (*Transaction, error) {
	if signature == "" {
		return nil, errors.New("signature is required")
	}

	var transaction Transaction
	err := s.db.Get(&transaction,
		`SELECT signature, payer, recipient, lamports, memo, record_account, slot, created_at
		FROM transactions
		WHERE signature = ?`,
		signature,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction %q: %w", signature, err)
	}
	return &transaction, nil
}

// ListTransactions returns the most recent transactions paid by or sent to account,
// newest first.
func (s *Store) ListTransactions(account string, limit int) ([]Transaction, error) {
	if account == "" {
		return nil, errors.New("account is required")
	}
	if limit <= 0 {
		limit = 100
	}

	transactions := make([]Transaction, 0)
	if err := s.db.Select(&transactions,
		`SELECT signature, payer, recipient, lamports, memo, record_account, slot, created_at
		FROM transactions
		WHERE payer = ? OR recipient = ?
		ORDER BY slot DESC
		LIMIT ?`,
		account,
		account,
		limit,
	); err != nil {
		return nil, fmt.Errorf("list transactions for %q: %w", account, err)
	}
	return transactions, nil
}

func hasTransaction(tx *sqlx.Tx, signature string) (bool, error) {
	var exists int
	if err := tx.Get(&exists,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE signature = ?)`,
		signature,
	); err != nil {
		return false, fmt.Errorf("check transaction %q: %w", signature, err)
	}
	return exists == 1, nil
}

// rewriteRecord replaces the data of an existing record account. The slot is kept so the
// record stays in its original enumeration position.
func rewriteRecord(tx *sqlx.Tx, pubkey, owner string, data []byte) error {
	result, err := tx.Exec(
		`UPDATE accounts SET data = ? WHERE pubkey = ? AND owner = ?`,
		data,
		pubkey,
		owner,
	)
	if err != nil {
		return fmt.Errorf("rewrite record account %q: %w", pubkey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rewrite record account %q: %w", pubkey, err)
	}
	if affected != 1 {
		return fmt.Errorf("rewrite record account %q: %w", pubkey, ErrNotFound)
	}
	return nil
}
