package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"

	"iotpanel/storage"
)

// LocalClient serves the Client contract from a SQLite ledger. It emulates the record
// program: memo payloads are stored in fresh accounts owned by the indexed program, and
// record patches rewrite the account they address. Every applied transaction is
// immediately finalized.
type LocalClient struct {
	store *storage.Store

	mu      sync.RWMutex
	program solana.PublicKey
	indexed bool

	// sendMu serialises patch read-modify-write cycles.
	sendMu sync.Mutex
}

var (
	_ Client        = (*LocalClient)(nil)
	_ RecordIndexer = (*LocalClient)(nil)
)

// NewLocalClient wraps an open store. Closing the client closes the store.
func NewLocalClient(store *storage.Store) *LocalClient {
	return &LocalClient{store: store}
}

// IndexRecordsFor sets the program that owns materialised memo records.
func (c *LocalClient) IndexRecordsFor(program solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = program
	c.indexed = true
}

func (c *LocalClient) recordProgram() (solana.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.program, c.indexed
}

func (c *LocalClient) LatestBlockhash(ctx context.Context, _ Commitment) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, err
	}
	slot, err := c.store.CurrentSlot()
	if err != nil {
		return solana.Hash{}, err
	}

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(slot))
	return solana.Hash(sha256.Sum256(append([]byte("iotpanel-local-slot:"), seed[:]...))), nil
}

func (c *LocalClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if err := verifyTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("verify transaction: %w", err)
	}
	intent, err := decodeTaggedTransfer(tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode transaction: %w", err)
	}
	if intent.Lamports > math.MaxInt64 {
		return solana.Signature{}, errors.New("lamports out of range")
	}

	signature := tx.Signatures[0]
	transfer := storage.Transfer{
		Signature: signature.String(),
		Payer:     intent.From.String(),
		Recipient: intent.To.String(),
		Lamports:  int64(intent.Lamports),
		Memo:      intent.Memo,
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if program, ok := c.recordProgram(); ok && len(intent.Memo) > 0 {
		transfer.RecordOwner = program.String()
		if patch, isPatch := parseRecordPatch(intent.Memo); isPatch {
			data, err := c.patchRecord(patch, program, intent.From)
			if err != nil {
				return solana.Signature{}, fmt.Errorf("apply %s: %w", patch.Op, err)
			}
			transfer.RecordAccount = patch.Account.String()
			transfer.RecordData = data
		} else {
			transfer.RecordAccount = solana.NewWallet().PublicKey().String()
		}
	}

	if _, err := c.store.ApplyTransfer(transfer); err != nil {
		return solana.Signature{}, fmt.Errorf("apply transfer: %w", err)
	}
	return signature, nil
}

func (c *LocalClient) patchRecord(patch RecordPatch, program, signer solana.PublicKey) ([]byte, error) {
	account, err := c.store.GetAccount(patch.Account.String())
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", patch.Account, err)
	}
	if account.Owner != program.String() {
		return nil, fmt.Errorf("account %s is not a record of %s: %w", patch.Account, program, storage.ErrNotFound)
	}
	return patch.Apply(account.Data, signer)
}

func (c *LocalClient) SignatureStatus(_ context.Context, signature solana.Signature) (SignatureStatus, error) {
	if _, err := c.store.GetTransaction(signature.String()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SignatureStatus{}, nil
		}
		return SignatureStatus{}, err
	}
	return SignatureStatus{Found: true, Commitment: CommitmentFinalized}, nil
}

func (c *LocalClient) ProgramAccounts(ctx context.Context, program solana.PublicKey) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.store.ProgramAccounts(program.String())
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(rows))
	for _, row := range rows {
		pubkey, err := solana.PublicKeyFromBase58(row.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("decode account key %q: %w", row.Pubkey, err)
		}
		accounts = append(accounts, Account{
			Pubkey:   pubkey,
			Owner:    program,
			Lamports: uint64(row.Lamports),
			Data:     row.Data,
		})
	}
	return accounts, nil
}

func (c *LocalClient) RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64, _ Commitment) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if lamports > math.MaxInt64 {
		return solana.Signature{}, errors.New("lamports out of range")
	}

	var signature solana.Signature
	if _, err := rand.Read(signature[:]); err != nil {
		return solana.Signature{}, fmt.Errorf("generate airdrop signature: %w", err)
	}
	if _, err := c.store.Airdrop(signature.String(), to.String(), int64(lamports)); err != nil {
		return solana.Signature{}, err
	}
	return signature, nil
}

func (c *LocalClient) Balance(ctx context.Context, account solana.PublicKey, _ Commitment) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lamports, err := c.store.Balance(account.String())
	if err != nil {
		return 0, err
	}
	return uint64(lamports), nil
}

// RecentActivity lists the transactions paid by or sent to account, newest first.
func (c *LocalClient) RecentActivity(ctx context.Context, account solana.PublicKey, limit int) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.store.ListTransactions(account.String(), limit)
	if err != nil {
		return nil, err
	}

	activity := make([]Activity, 0, len(rows))
	for _, row := range rows {
		activity = append(activity, Activity{
			Signature: row.Signature,
			Slot:      uint64(row.Slot),
			Memo:      string(row.Memo),
		})
	}
	return activity, nil
}

func (c *LocalClient) Close() error {
	return c.store.Close()
}
