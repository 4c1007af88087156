// Package message sends message records through the ledger and reads them back.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"iotpanel/ledger"
	"iotpanel/models"
)

// MaxContentBytes is the largest message body the record program accepts.
const MaxContentBytes = 1000

const patchMarkRead = "mark_read"

// ErrUnknownMessage indicates no message record lives at the requested account.
var ErrUnknownMessage = errors.New("message: unknown message")

// Record is a decoded message together with the account that stores it.
type Record struct {
	Account solana.PublicKey `json:"account"`
	Message models.Message   `json:"message"`
}

// Ledger is the part of *ledger.Adapter the message service needs.
type Ledger interface {
	Connected() bool
	Signer() (solana.PublicKey, bool)
	ProgramID() (solana.PublicKey, bool)
	SubmitTaggedTransfer(ctx context.Context, from, to solana.PublicKey, lamports uint64, tag []byte) (solana.Signature, error)
	ListProgramAccounts(ctx context.Context, program solana.PublicKey) ([]ledger.Account, error)
}

// Options configures a Service. Zero values select memo payloads, the wall clock and a
// discarding logger.
type Options struct {
	Payload ledger.PayloadMode
	Now     func() time.Time
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Payload == "" {
		out.Payload = ledger.PayloadMemo
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

type Service struct {
	ledger Ledger
	opts   Options
}

func NewService(l Ledger, opts Options) *Service {
	return &Service{ledger: l, opts: opts.withDefaults()}
}

// Send announces a message to recipient with a zero-value transfer and returns the
// transaction signature.
func (s *Service) Send(ctx context.Context, recipient solana.PublicKey, content string) (solana.Signature, error) {
	const op = "send message"

	if !s.ledger.Connected() {
		return solana.Signature{}, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	sender, ok := s.ledger.Signer()
	if !ok {
		return solana.Signature{}, ledger.Wrap(ledger.KindSubmission, op, ledger.ErrNoSigner)
	}
	if len(content) > MaxContentBytes {
		return solana.Signature{}, ledger.Errorf(ledger.KindValidation, op, "content is %d bytes, limit is %d", len(content), MaxContentBytes)
	}

	record := models.Message{
		Sender:    sender.String(),
		Recipient: recipient.String(),
		Content:   content,
		Timestamp: s.opts.Now().UnixMilli(),
	}
	tag, err := s.opts.Payload.Tag(record)
	if err != nil {
		return solana.Signature{}, ledger.Wrap(ledger.KindSubmission, op, err)
	}

	signature, err := s.ledger.SubmitTaggedTransfer(ctx, sender, recipient, 0, tag)
	if err != nil {
		return solana.Signature{}, ledger.Rewrap(ledger.KindSubmission, op, err)
	}

	s.opts.Logger.Info("message sent",
		"signature", signature.String(),
		"recipient", record.Recipient,
		"bytes", len(content),
	)
	return signature, nil
}

// MarkRead flags the message stored at account as read. Only the message recipient may
// mark it.
func (s *Service) MarkRead(ctx context.Context, account solana.PublicKey) (solana.Signature, error) {
	const op = "mark message read"

	if !s.ledger.Connected() {
		return solana.Signature{}, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	if s.opts.Payload == ledger.PayloadBare {
		return solana.Signature{}, ledger.Errorf(ledger.KindConfiguration, op, "payload mode %q cannot carry record updates", s.opts.Payload)
	}
	signer, ok := s.ledger.Signer()
	if !ok {
		return solana.Signature{}, ledger.Wrap(ledger.KindSubmission, op, ledger.ErrNoSigner)
	}

	records, program, err := s.records(ctx, op)
	if err != nil {
		return solana.Signature{}, err
	}
	var target *Record
	for i := range records {
		if records[i].Account.Equals(account) {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return solana.Signature{}, ledger.Errorf(ledger.KindValidation, op, "%w: %s", ErrUnknownMessage, account)
	}
	if target.Message.Recipient != signer.String() {
		return solana.Signature{}, ledger.Errorf(ledger.KindValidation, op, "%w: message %s is addressed to %q", ledger.ErrUnauthorized, account, target.Message.Recipient)
	}

	tag, err := s.opts.Payload.Tag(ledger.RecordPatch{
		Op:          patchMarkRead,
		Account:     account,
		SignerField: "recipient",
		Set:         map[string]any{"read": true},
	})
	if err != nil {
		return solana.Signature{}, ledger.Wrap(ledger.KindSubmission, op, err)
	}

	signature, err := s.ledger.SubmitTaggedTransfer(ctx, signer, program, 0, tag)
	if err != nil {
		return solana.Signature{}, ledger.Rewrap(ledger.KindSubmission, op, err)
	}

	s.opts.Logger.Info("message marked read", "signature", signature.String(), "account", account.String())
	return signature, nil
}

// Records decodes the program accounts that hold message records, in enumeration order.
// Accounts that are not message records are skipped.
func (s *Service) Records(ctx context.Context) ([]Record, error) {
	records, _, err := s.records(ctx, "list message records")
	return records, err
}

func (s *Service) records(ctx context.Context, op string) ([]Record, solana.PublicKey, error) {
	if !s.ledger.Connected() {
		return nil, solana.PublicKey{}, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	program, ok := s.ledger.ProgramID()
	if !ok {
		return nil, solana.PublicKey{}, ledger.Wrap(ledger.KindConfiguration, op, ledger.ErrNoProgramID)
	}

	accounts, err := s.ledger.ListProgramAccounts(ctx, program)
	if err != nil {
		return nil, solana.PublicKey{}, ledger.Rewrap(ledger.KindRetrieval, op, err)
	}

	records := make([]Record, 0, len(accounts))
	for _, account := range accounts {
		var msg models.Message
		if err := json.Unmarshal(account.Data, &msg); err != nil {
			continue
		}
		if msg.Sender == "" || msg.Recipient == "" {
			continue
		}
		records = append(records, Record{Account: account.Pubkey, Message: msg})
	}
	return records, program, nil
}

// List returns the data of every program account as a string, in enumeration order.
// Accounts without data are skipped.
func (s *Service) List(ctx context.Context) ([]string, error) {
	const op = "list messages"

	if !s.ledger.Connected() {
		return nil, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	program, ok := s.ledger.ProgramID()
	if !ok {
		return nil, ledger.Wrap(ledger.KindConfiguration, op, ledger.ErrNoProgramID)
	}

	accounts, err := s.ledger.ListProgramAccounts(ctx, program)
	if err != nil {
		return nil, ledger.Rewrap(ledger.KindRetrieval, op, err)
	}

	messages := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if len(account.Data) == 0 {
			continue
		}
		messages = append(messages, string(account.Data))
	}
	return messages, nil
}
