package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// AdapterOptions tunes adapter dependencies. Zero values fall back to Dial and a
// discarding logger.
type AdapterOptions struct {
	Dialer Dialer
	Logger *slog.Logger
}

func (o AdapterOptions) withDefaults() AdapterOptions {
	out := o
	if out.Dialer == nil {
		out.Dialer = Dial
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

// Adapter owns the session state shared by the services: the live connection, the
// program that owns records and the signer key. Setters are last-write-wins and safe for
// concurrent use.
type Adapter struct {
	dial   Dialer
	logger *slog.Logger

	mu        sync.RWMutex
	client    Client
	cfg       ConnectionConfig
	program   solana.PublicKey
	hasProg   bool
	signer    solana.PrivateKey
	hasSigner bool
}

// NewAdapter returns an adapter with no connection, program or signer.
func NewAdapter(opts AdapterOptions) *Adapter {
	opts = opts.withDefaults()
	return &Adapter{
		dial:   opts.Dialer,
		logger: opts.Logger,
	}
}

// EstablishConnection opens a connection to cfg's endpoint and replaces any previous one.
func (a *Adapter) EstablishConnection(ctx context.Context, cfg ConnectionConfig) error {
	const op = "establish connection"

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Wrap(KindConnection, op, err)
	}

	client, err := a.dial(ctx, cfg)
	if err != nil {
		return Wrap(KindConnection, op, err)
	}

	a.mu.Lock()
	previous := a.client
	a.client = client
	a.cfg = cfg
	program, hasProg := a.program, a.hasProg
	a.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			a.logger.Warn("close previous ledger connection", "error", err)
		}
	}
	if hasProg {
		indexRecords(client, program)
	}

	a.logger.Info("ledger connection established",
		"endpoint", cfg.Endpoint,
		"commitment", string(cfg.Commitment),
	)
	return nil
}

// Connected reports whether EstablishConnection has succeeded.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client != nil
}

// Config returns the active connection config and whether one exists.
func (a *Adapter) Config() (ConnectionConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg, a.client != nil
}

// SetProgramID parses a base58 program identifier. Malformed input leaves the current
// program untouched.
func (a *Adapter) SetProgramID(id string) error {
	const op = "set program id"

	program, err := solana.PublicKeyFromBase58(strings.TrimSpace(id))
	if err != nil {
		return Errorf(KindConfiguration, op, "parse %q: %w", id, err)
	}

	a.mu.Lock()
	a.program = program
	a.hasProg = true
	client := a.client
	a.mu.Unlock()

	if client != nil {
		indexRecords(client, program)
	}
	return nil
}

// ProgramID returns the configured program and whether one is set.
func (a *Adapter) ProgramID() (solana.PublicKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.program, a.hasProg
}

// SetSigner installs the key that signs and pays for submissions.
func (a *Adapter) SetSigner(key solana.PrivateKey) error {
	if err := validPrivateKey(key); err != nil {
		return Wrap(KindConfiguration, "set signer", err)
	}

	copied := make(solana.PrivateKey, len(key))
	copy(copied, key)

	a.mu.Lock()
	a.signer = copied
	a.hasSigner = true
	a.mu.Unlock()
	return nil
}

// Signer returns the signer's public key and whether one is set.
func (a *Adapter) Signer() (solana.PublicKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasSigner {
		return solana.PublicKey{}, false
	}
	return a.signer.PublicKey(), true
}

// SubmitTaggedTransfer signs and submits one transfer of lamports from the signer to
// the target, with tag attached as a memo when non-empty, and waits for the configured
// commitment. from must be the signer's public key.
func (a *Adapter) SubmitTaggedTransfer(ctx context.Context, from, to solana.PublicKey, lamports uint64, tag []byte) (solana.Signature, error) {
	const op = "submit transfer"

	client, cfg, err := a.connection()
	if err != nil {
		return solana.Signature{}, Wrap(KindConnection, op, err)
	}
	signer, err := a.signerKey()
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}
	if !signer.PublicKey().Equals(from) {
		return solana.Signature{}, Errorf(KindSubmission, op, "sender %s is not the configured signer", from)
	}

	blockhash, err := client.LatestBlockhash(ctx, cfg.Commitment)
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}

	tx, err := buildTaggedTransfer(signer, to, lamports, tag, blockhash)
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}

	signature, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}

	if err := a.awaitCommitment(ctx, client, cfg, signature); err != nil {
		return signature, Wrap(KindSubmission, op, err)
	}

	a.logger.Debug("transfer confirmed",
		"signature", signature.String(),
		"to", to.String(),
		"lamports", lamports,
		"tag_bytes", len(tag),
	)
	return signature, nil
}

// ListProgramAccounts returns every account owned by program in backend order.
func (a *Adapter) ListProgramAccounts(ctx context.Context, program solana.PublicKey) ([]Account, error) {
	const op = "list program accounts"

	client, _, err := a.connection()
	if err != nil {
		return nil, Wrap(KindConnection, op, err)
	}

	accounts, err := client.ProgramAccounts(ctx, program)
	if err != nil {
		return nil, Wrap(KindRetrieval, op, err)
	}
	return accounts, nil
}

// Fund requests an airdrop of lamports to the signer and waits for it to confirm.
// Only test networks and the local ledger honour airdrops.
func (a *Adapter) Fund(ctx context.Context, lamports uint64) (solana.Signature, error) {
	const op = "fund signer"

	client, cfg, err := a.connection()
	if err != nil {
		return solana.Signature{}, Wrap(KindConnection, op, err)
	}
	signer, err := a.signerKey()
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}
	if lamports == 0 {
		return solana.Signature{}, Errorf(KindValidation, op, "lamports must be > 0")
	}

	signature, err := client.RequestAirdrop(ctx, signer.PublicKey(), lamports, cfg.Commitment)
	if err != nil {
		return solana.Signature{}, Wrap(KindSubmission, op, err)
	}
	if err := a.awaitCommitment(ctx, client, cfg, signature); err != nil {
		return signature, Wrap(KindSubmission, op, err)
	}

	a.logger.Info("signer funded", "signature", signature.String(), "lamports", lamports)
	return signature, nil
}

// DefaultActivityLimit caps the recent transactions reported by Wallet.
const DefaultActivityLimit = 10

// WalletSummary is the signer's balance and its most recent transactions.
type WalletSummary struct {
	Signer   string     `json:"signer"`
	Lamports uint64     `json:"lamports"`
	Activity []Activity `json:"activity"`
}

// Wallet reports the signer's balance and up to limit of its recent transactions. A
// non-positive limit selects DefaultActivityLimit.
func (a *Adapter) Wallet(ctx context.Context, limit int) (WalletSummary, error) {
	const op = "read wallet"

	client, cfg, err := a.connection()
	if err != nil {
		return WalletSummary{}, Wrap(KindConnection, op, err)
	}
	signer, ok := a.Signer()
	if !ok {
		return WalletSummary{}, Wrap(KindConfiguration, op, ErrNoSigner)
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	lamports, err := client.Balance(ctx, signer, cfg.Commitment)
	if err != nil {
		return WalletSummary{}, Wrap(KindRetrieval, op, err)
	}
	activity, err := client.RecentActivity(ctx, signer, limit)
	if err != nil {
		return WalletSummary{}, Wrap(KindRetrieval, op, err)
	}
	if activity == nil {
		activity = []Activity{}
	}

	return WalletSummary{
		Signer:   signer.String(),
		Lamports: lamports,
		Activity: activity,
	}, nil
}

// Close drops the current connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (a *Adapter) connection() (Client, ConnectionConfig, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, ConnectionConfig{}, ErrNotConnected
	}
	return a.client, a.cfg, nil
}

func (a *Adapter) signerKey() (solana.PrivateKey, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasSigner {
		return nil, ErrNoSigner
	}
	return a.signer, nil
}

func (a *Adapter) awaitCommitment(ctx context.Context, client Client, cfg ConnectionConfig, signature solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := client.SignatureStatus(ctx, signature)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("confirm %s: %w", signature, err)
		}
		if err == nil && status.Found {
			if status.Err != "" {
				return fmt.Errorf("transaction %s failed: %s", signature, status.Err)
			}
			if status.Commitment.Reaches(cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", ErrConfirmTimeout, signature, cfg.ConfirmTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func indexRecords(client Client, program solana.PublicKey) {
	if indexer, ok := client.(RecordIndexer); ok {
		indexer.IndexRecordsFor(program)
	}
}

func validPrivateKey(key solana.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid signer key length: got %d want %d", len(key), ed25519.PrivateKeySize)
	}
	return nil
}
