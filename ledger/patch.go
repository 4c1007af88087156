package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/gagliardetto/solana-go"
)

// RecordPatch is a memo payload that rewrites fields of an existing record account
// instead of creating a new one. Backends that emulate the record program apply it;
// other networks only record the memo.
type RecordPatch struct {
	Op      string           `json:"op"`
	Account solana.PublicKey `json:"account"`
	// Match lists fields the stored record must already hold.
	Match map[string]any `json:"match,omitempty"`
	// SignerField names a record field that must equal the signer of the transfer.
	SignerField string         `json:"signer_field,omitempty"`
	Set         map[string]any `json:"set"`
}

// parseRecordPatch reports whether memo is a record patch rather than a new record.
func parseRecordPatch(memo []byte) (RecordPatch, bool) {
	var patch RecordPatch
	if err := decodeNumbers(memo, &patch); err != nil {
		return RecordPatch{}, false
	}
	if patch.Op == "" || patch.Account.IsZero() {
		return RecordPatch{}, false
	}
	return patch, true
}

// Apply checks patch against the stored record data and returns the rewritten record.
// Fields outside Set are carried over untouched.
func (p RecordPatch) Apply(data []byte, signer solana.PublicKey) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("record has no data")
	}

	var record map[string]any
	if err := decodeNumbers(data, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if record == nil {
		return nil, errors.New("record is not a JSON object")
	}

	for field, want := range p.Match {
		if !reflect.DeepEqual(record[field], want) {
			return nil, fmt.Errorf("%w: field %q", ErrRecordMismatch, field)
		}
	}
	if p.SignerField != "" {
		if holder, _ := record[p.SignerField].(string); holder != signer.String() {
			return nil, fmt.Errorf("%w: %s is not the record %s", ErrUnauthorized, signer, p.SignerField)
		}
	}

	for field, value := range p.Set {
		record[field] = value
	}
	out, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

// decodeNumbers keeps JSON numbers as json.Number so int64 timestamps survive a rewrite.
func decodeNumbers(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(dst)
}
