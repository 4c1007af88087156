package ledger

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"iotpanel/storage"
)

// Account is one program-owned account with its raw, opaque data.
type Account struct {
	Pubkey   solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// SignatureStatus is the latest known state of a submitted transaction.
type SignatureStatus struct {
	Found      bool
	Commitment Commitment
	// Err holds the network's failure description for a transaction that landed but failed.
	Err string
}

// Activity is one recent transaction that involved an account, newest first.
type Activity struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Memo      string `json:"memo,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// Client is the transport seam between the adapter and a ledger backend.
type Client interface {
	LatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, signature solana.Signature) (SignatureStatus, error)
	ProgramAccounts(ctx context.Context, program solana.PublicKey) ([]Account, error)
	RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64, commitment Commitment) (solana.Signature, error)
	Balance(ctx context.Context, account solana.PublicKey, commitment Commitment) (uint64, error)
	RecentActivity(ctx context.Context, account solana.PublicKey, limit int) ([]Activity, error)
	Close() error
}

// RecordIndexer is implemented by backends that emulate the record program themselves.
// Memo payloads of confirmed transfers are materialised as accounts owned by program.
type RecordIndexer interface {
	IndexRecordsFor(program solana.PublicKey)
}

// Dialer opens a Client for a validated connection config.
type Dialer func(ctx context.Context, cfg ConnectionConfig) (Client, error)

// Dial opens the backend selected by the endpoint scheme: JSON-RPC for http(s) and the
// SQLite ledger for local.
func Dial(_ context.Context, cfg ConnectionConfig) (Client, error) {
	u, err := cfg.endpointURL()
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case SchemeLocal:
		store, err := openLocalStore(cfg, u)
		if err != nil {
			return nil, fmt.Errorf("open local ledger: %w", err)
		}
		return NewLocalClient(store), nil
	default:
		return newRPCClient(rpc.New(cfg.Endpoint)), nil
	}
}

// openLocalStore opens the endpoint's database path, or the default ledger file under
// DataDir when the endpoint names no path.
func openLocalStore(cfg ConnectionConfig, u *url.URL) (*storage.Store, error) {
	if path := localPath(u); path != "" {
		return storage.OpenPath(path)
	}
	store, _, err := storage.Open(cfg.DataDir)
	return store, err
}
