package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies ledger-facing failures so callers can branch on them.
type Kind uint8

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	// KindConnection covers unreachable endpoints, malformed connection config and
	// operations attempted before a connection exists.
	KindConnection
	// KindConfiguration covers malformed identifiers and missing program/signer setup.
	KindConfiguration
	// KindSubmission covers signing, network and validation failures while submitting.
	KindSubmission
	// KindRetrieval covers network failures while enumerating accounts.
	KindRetrieval
	// KindParse covers malformed record data read back from accounts.
	KindParse
	// KindValidation covers local input checks made before anything is submitted.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindConfiguration:
		return "configuration"
	case KindSubmission:
		return "submission"
	case KindRetrieval:
		return "retrieval"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by every operation invoked before EstablishConnection.
	ErrNotConnected = errors.New("ledger: not connected")
	// ErrNoSigner indicates no signer key-pair has been configured.
	ErrNoSigner = errors.New("ledger: signer not set")
	// ErrNoProgramID indicates no program identifier has been configured.
	ErrNoProgramID = errors.New("ledger: program id not set")
	// ErrConfirmTimeout indicates a submitted transaction did not reach the configured
	// commitment level in time.
	ErrConfirmTimeout = errors.New("ledger: confirmation timed out")
	// ErrUnauthorized indicates the signer may not change the addressed record.
	ErrUnauthorized = errors.New("ledger: signer not authorized for record")
	// ErrRecordMismatch indicates a record patch addressed a record that does not hold the
	// expected field values.
	ErrRecordMismatch = errors.New("ledger: record does not match patch")
)

// Error carries a failure kind, the operation that failed and the original cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped as an *Error of the given kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a format string; %w verbs are honoured.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
