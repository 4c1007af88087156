package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"iotpanel/crypto"
)

// MemoProgramID is the SPL memo program that carries record payloads.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

const systemTransferInstruction = 2

// transferIntent is the decoded content of a tagged transfer transaction.
type transferIntent struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
	Memo     []byte
}

// buildTaggedTransfer assembles and signs one transfer instruction, followed by a memo
// instruction carrying tag when tag is non-empty.
func buildTaggedTransfer(from solana.PrivateKey, to solana.PublicKey, lamports uint64, tag []byte, blockhash solana.Hash) (*solana.Transaction, error) {
	if len(from) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signer key length: got %d want %d", len(from), ed25519.PrivateKeySize)
	}
	payer := from.PublicKey()

	instructions := []solana.Instruction{
		system.NewTransferInstruction(lamports, payer, to).Build(),
	}
	if len(tag) > 0 {
		instructions = append(instructions, solana.NewInstruction(
			MemoProgramID,
			solana.AccountMetaSlice{solana.NewAccountMeta(payer, false, true)},
			tag,
		))
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &from
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	return tx, nil
}

// verifyTransaction checks every required signature against the serialized message.
func verifyTransaction(tx *solana.Transaction) error {
	if tx == nil {
		return errors.New("transaction is required")
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 || len(tx.Signatures) < required {
		return fmt.Errorf("transaction has %d signatures, %d required", len(tx.Signatures), required)
	}
	if len(tx.Message.AccountKeys) < required {
		return errors.New("transaction has fewer account keys than signers")
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	for i := 0; i < required; i++ {
		signer := tx.Message.AccountKeys[i]
		if !crypto.Verify(signer, message, tx.Signatures[i]) {
			return fmt.Errorf("invalid signature for %s", signer)
		}
	}

	return nil
}

// decodeTaggedTransfer extracts the transfer and memo instructions built by
// buildTaggedTransfer. Any other program is rejected, as is a transfer whose source is
// not one of the transaction's signers.
func decodeTaggedTransfer(tx *solana.Transaction) (transferIntent, error) {
	var (
		intent      transferIntent
		sawTransfer bool
	)

	keys := tx.Message.AccountKeys
	signers := int(tx.Message.Header.NumRequiredSignatures)
	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return transferIntent{}, fmt.Errorf("instruction %d: program index out of range", i)
		}
		program := keys[inst.ProgramIDIndex]
		data := []byte(inst.Data)

		switch {
		case program.Equals(solana.SystemProgramID):
			if sawTransfer {
				return transferIntent{}, errors.New("more than one transfer instruction")
			}
			if len(data) != 12 || binary.LittleEndian.Uint32(data[:4]) != systemTransferInstruction {
				return transferIntent{}, fmt.Errorf("instruction %d: not a system transfer", i)
			}
			if len(inst.Accounts) < 2 || int(inst.Accounts[0]) >= len(keys) || int(inst.Accounts[1]) >= len(keys) {
				return transferIntent{}, fmt.Errorf("instruction %d: missing transfer accounts", i)
			}
			if int(inst.Accounts[0]) >= signers {
				return transferIntent{}, fmt.Errorf("instruction %d: transfer source %s did not sign", i, keys[inst.Accounts[0]])
			}
			intent.From = keys[inst.Accounts[0]]
			intent.To = keys[inst.Accounts[1]]
			intent.Lamports = binary.LittleEndian.Uint64(data[4:12])
			sawTransfer = true
		case program.Equals(MemoProgramID):
			intent.Memo = append(intent.Memo, data...)
		default:
			return transferIntent{}, fmt.Errorf("instruction %d: unsupported program %s", i, program)
		}
	}

	if !sawTransfer {
		return transferIntent{}, errors.New("transaction has no transfer instruction")
	}
	return intent, nil
}
