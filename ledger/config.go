package ledger

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the public test network used when no endpoint is configured.
	DefaultEndpoint = "https://api.devnet.solana.com"
	// DefaultConfirmTimeout bounds how long a submission waits for its commitment level.
	DefaultConfirmTimeout = 60 * time.Second
	// DefaultPollInterval is the signature status polling period while confirming.
	DefaultPollInterval = 500 * time.Millisecond

	// SchemeLocal selects the SQLite-backed local ledger.
	SchemeLocal = "local"
)

// Commitment is the confirmation depth a read or write must reach.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment validates a commitment level name.
func ParseCommitment(value string) (Commitment, error) {
	switch c := Commitment(strings.ToLower(strings.TrimSpace(value))); c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("invalid commitment %q", value)
	}
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether an observed commitment satisfies the wanted one.
func (c Commitment) Reaches(want Commitment) bool {
	return c.rank() > 0 && c.rank() >= want.rank()
}

// ConnectionConfig selects the ledger endpoint and commitment level. It is copied into
// the adapter when a connection is established and never mutated afterwards.
type ConnectionConfig struct {
	Endpoint       string
	Commitment     Commitment
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// DataDir holds the local ledger file when a local:// endpoint names no path.
	DataDir string
}

// DefaultConnectionConfig points at the public test network with "confirmed" commitment.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Endpoint:       DefaultEndpoint,
		Commitment:     CommitmentConfirmed,
		ConfirmTimeout: DefaultConfirmTimeout,
		PollInterval:   DefaultPollInterval,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	out := c
	if strings.TrimSpace(out.Endpoint) == "" {
		out.Endpoint = DefaultEndpoint
	}
	if out.Commitment == "" {
		out.Commitment = CommitmentConfirmed
	}
	if out.ConfirmTimeout <= 0 {
		out.ConfirmTimeout = DefaultConfirmTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}

// Validate checks the endpoint URL and commitment level.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if _, err := ParseCommitment(string(c.Commitment)); err != nil {
		return err
	}
	_, err := c.endpointURL()
	return err
}

func (c ConnectionConfig) endpointURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(c.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint %q has no host", c.Endpoint)
		}
	case SchemeLocal:
		if localPath(u) == "" && strings.TrimSpace(c.DataDir) == "" {
			return nil, fmt.Errorf("endpoint %q has no database path", c.Endpoint)
		}
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	return u, nil
}

// localPath extracts the database path from local:///abs/path or local://rel/path.
func localPath(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}
