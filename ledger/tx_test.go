package ledger

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func testBlockhash() solana.Hash {
	var h solana.Hash
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

// transferFromNonSigner builds a transfer that debits victim while only payer signs. The
// system instruction marks victim as a plain writable account.
func transferFromNonSigner(t *testing.T, payer solana.PrivateKey, victim, to solana.PublicKey, lamports uint64) *solana.Transaction {
	t.Helper()

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(
			solana.SystemProgramID,
			solana.AccountMetaSlice{
				solana.NewAccountMeta(victim, true, false),
				solana.NewAccountMeta(to, true, false),
			},
			data,
		)},
		testBlockhash(),
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestTaggedTransferRoundTrip(t *testing.T) {
	from := solana.NewWallet().PrivateKey
	to := solana.NewWallet().PublicKey()
	tag := []byte(`{"content":"hello"}`)

	tx, err := buildTaggedTransfer(from, to, 0, tag, testBlockhash())
	if err != nil {
		t.Fatalf("buildTaggedTransfer: %v", err)
	}
	if err := verifyTransaction(tx); err != nil {
		t.Fatalf("verifyTransaction: %v", err)
	}

	intent, err := decodeTaggedTransfer(tx)
	if err != nil {
		t.Fatalf("decodeTaggedTransfer: %v", err)
	}
	if !intent.From.Equals(from.PublicKey()) || !intent.To.Equals(to) {
		t.Fatalf("unexpected parties: %s -> %s", intent.From, intent.To)
	}
	if intent.Lamports != 0 {
		t.Fatalf("expected zero lamports, got %d", intent.Lamports)
	}
	if string(intent.Memo) != string(tag) {
		t.Fatalf("unexpected memo: %q", intent.Memo)
	}
}

func TestTaggedTransferWithoutTagHasSingleInstruction(t *testing.T) {
	from := solana.NewWallet().PrivateKey
	to := solana.NewWallet().PublicKey()

	tx, err := buildTaggedTransfer(from, to, 42, nil, testBlockhash())
	if err != nil {
		t.Fatalf("buildTaggedTransfer: %v", err)
	}
	if len(tx.Message.Instructions) != 1 {
		t.Fatalf("expected one instruction, got %d", len(tx.Message.Instructions))
	}

	intent, err := decodeTaggedTransfer(tx)
	if err != nil {
		t.Fatalf("decodeTaggedTransfer: %v", err)
	}
	if intent.Lamports != 42 || len(intent.Memo) != 0 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestVerifyTransactionRejectsTamperedSignature(t *testing.T) {
	from := solana.NewWallet().PrivateKey
	to := solana.NewWallet().PublicKey()

	tx, err := buildTaggedTransfer(from, to, 1, []byte("x"), testBlockhash())
	if err != nil {
		t.Fatalf("buildTaggedTransfer: %v", err)
	}
	tx.Signatures[0][0] ^= 0xFF

	if err := verifyTransaction(tx); err == nil {
		t.Fatalf("expected tampered signature to fail verification")
	}
}

func TestBuildTaggedTransferRejectsShortKey(t *testing.T) {
	if _, err := buildTaggedTransfer(solana.PrivateKey{1, 2, 3}, solana.NewWallet().PublicKey(), 0, nil, testBlockhash()); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestDecodeRejectsForeignProgram(t *testing.T) {
	from := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(other, solana.AccountMetaSlice{}, []byte{1})},
		testBlockhash(),
		solana.TransactionPayer(from.PublicKey()),
	)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if _, err := decodeTaggedTransfer(tx); err == nil {
		t.Fatalf("expected foreign program to be rejected")
	}
}

func TestDecodeRejectsTransferFromNonSigner(t *testing.T) {
	attacker := solana.NewWallet().PrivateKey
	victim := solana.NewWallet().PublicKey()

	tx := transferFromNonSigner(t, attacker, victim, attacker.PublicKey(), 500)
	if err := verifyTransaction(tx); err != nil {
		t.Fatalf("attacker signature should verify: %v", err)
	}
	if _, err := decodeTaggedTransfer(tx); err == nil {
		t.Fatalf("expected transfer from a non-signing source to be rejected")
	}
}
