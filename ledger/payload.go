package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadMode decides whether a record travels with the transfer that announces it.
type PayloadMode string

const (
	// PayloadMemo attaches the JSON record as a memo instruction.
	PayloadMemo PayloadMode = "memo"
	// PayloadBare submits the zero-value transfer with no data at all.
	PayloadBare PayloadMode = "bare"
)

// ParsePayloadMode validates a payload mode name. Empty selects PayloadMemo.
func ParsePayloadMode(value string) (PayloadMode, error) {
	switch m := PayloadMode(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return PayloadMemo, nil
	case PayloadMemo, PayloadBare:
		return m, nil
	default:
		return "", fmt.Errorf("invalid payload mode %q", value)
	}
}

// Tag encodes record as the transfer tag for this mode.
func (m PayloadMode) Tag(record any) ([]byte, error) {
	if m == PayloadBare {
		return nil, nil
	}
	tag, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return tag, nil
}

// Rewrap prefixes err with op while keeping its kind. Errors without a kind are
// classified as fallback.
func Rewrap(fallback Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	kind := fallback
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		kind = ledgerErr.Kind
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
