package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcAPI is the subset of *rpc.Client used by rpcClient.
type rpcAPI interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error)
	GetBalance(ctx context.Context, publicKey solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
}

var _ rpcAPI = (*rpc.Client)(nil)

// rpcClient talks to a JSON-RPC ledger node.
type rpcClient struct {
	api rpcAPI
}

func newRPCClient(api rpcAPI) *rpcClient {
	return &rpcClient{api: api}
}

func (c *rpcClient) LatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, error) {
	out, err := c.api.GetLatestBlockhash(ctx, rpc.CommitmentType(commitment))
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

func (c *rpcClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.api.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *rpcClient) SignatureStatus(ctx context.Context, signature solana.Signature) (SignatureStatus, error) {
	out, err := c.api.GetSignatureStatuses(ctx, false, signature)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	value := out.Value[0]
	status := SignatureStatus{
		Found:      true,
		Commitment: Commitment(value.ConfirmationStatus),
	}
	if value.Err != nil {
		status.Err = fmt.Sprint(value.Err)
	}
	return status, nil
}

func (c *rpcClient) ProgramAccounts(ctx context.Context, program solana.PublicKey) ([]Account, error) {
	out, err := c.api.GetProgramAccounts(ctx, program)
	if err != nil {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	accounts := make([]Account, 0, len(out))
	for _, keyed := range out {
		if keyed == nil {
			continue
		}
		account := Account{Pubkey: keyed.Pubkey}
		if keyed.Account != nil {
			account.Owner = keyed.Account.Owner
			account.Lamports = keyed.Account.Lamports
			if keyed.Account.Data != nil {
				account.Data = keyed.Account.Data.GetBinary()
			}
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

func (c *rpcClient) RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64, commitment Commitment) (solana.Signature, error) {
	sig, err := c.api.RequestAirdrop(ctx, to, lamports, rpc.CommitmentType(commitment))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("request airdrop: %w", err)
	}
	return sig, nil
}

func (c *rpcClient) Balance(ctx context.Context, account solana.PublicKey, commitment Commitment) (uint64, error) {
	out, err := c.api.GetBalance(ctx, account, rpc.CommitmentType(commitment))
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if out == nil {
		return 0, errors.New("get balance: empty response")
	}
	return out.Value, nil
}

func (c *rpcClient) RecentActivity(ctx context.Context, account solana.PublicKey, limit int) ([]Activity, error) {
	out, err := c.api.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{Limit: &limit})
	if err != nil {
		return nil, fmt.Errorf("get signatures for address: %w", err)
	}

	activity := make([]Activity, 0, len(out))
	for _, sig := range out {
		if sig == nil {
			continue
		}
		entry := Activity{
			Signature: sig.Signature.String(),
			Slot:      sig.Slot,
			Failed:    sig.Err != nil,
		}
		if sig.Memo != nil {
			entry.Memo = *sig.Memo
		}
		activity = append(activity, entry)
	}
	return activity, nil
}

func (c *rpcClient) Close() error {
	if closer, ok := c.api.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
