package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicateTransaction indicates a signature was already applied.
	ErrDuplicateTransaction = errors.New("storage: transaction already processed")
	// ErrInsufficientFunds indicates the payer balance cannot cover the transfer.
	ErrInsufficientFunds = errors.New("storage: insufficient funds")
)

const (
	// SystemOwner owns plain wallet accounts created by transfers and airdrops.
	SystemOwner = "11111111111111111111111111111111"
	// FaucetPayer is recorded as the payer of airdrop transactions.
	FaucetPayer = "faucet"
)

// Account is the SQLite representation of one ledger account.
type Account struct {
	Pubkey    string `db:"pubkey"`
	Owner     string `db:"owner"`
	Lamports  int64  `db:"lamports"`
	Data      []byte `db:"data"`
	Slot      int64  `db:"slot"`
	CreatedAt int64  `db:"created_at"`
}

// Transaction is the SQLite representation of one applied transfer.
type Transaction struct {
	Signature     string  `db:"signature"`
	Payer         string  `db:"payer"`
	Recipient     string  `db:"recipient"`
	Lamports      int64   `db:"lamports"`
	Memo          []byte  `db:"memo"`
	RecordAccount *string `db:"record_account"`
	Slot          int64   `db:"slot"`
	CreatedAt     int64   `db:"created_at"`
}

// Transfer describes a verified transfer to apply atomically.
//
// When Memo is non-empty and RecordOwner is set, a new account RecordAccount owned by
// RecordOwner is created holding the memo bytes. When RecordData is set instead, the
// existing RecordAccount owned by RecordOwner has its data replaced by RecordData.
type Transfer struct {
	Signature     string
	Payer         string
	Recipient     string
	Lamports      int64
	Memo          []byte
	RecordOwner   string
	RecordAccount string
	RecordData    []byte
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
