// Package device registers device records on the ledger and enumerates them.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"iotpanel/ledger"
	"iotpanel/models"
)

// MaxTypeBytes is the longest device type the record program accepts.
const MaxTypeBytes = 50

const (
	patchUpdate     = "update_device"
	patchDeactivate = "deactivate_device"
)

var simulatedDevices = []string{"Sensor 1", "Sensor 2", "Sensor 3"}

// ErrUnknownDevice indicates no record on the ledger carries the requested device ID.
var ErrUnknownDevice = errors.New("device: unknown device")

// Ledger is the part of *ledger.Adapter the device service needs.
type Ledger interface {
	Connected() bool
	Signer() (solana.PublicKey, bool)
	ProgramID() (solana.PublicKey, bool)
	SubmitTaggedTransfer(ctx context.Context, from, to solana.PublicKey, lamports uint64, tag []byte) (solana.Signature, error)
	ListProgramAccounts(ctx context.Context, program solana.PublicKey) ([]ledger.Account, error)
}

// Options configures a Service. NewID defaults to a fresh random public key.
type Options struct {
	Payload ledger.PayloadMode
	Now     func() time.Time
	NewID   func() solana.PublicKey
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
	if out.NewID == nil {
		out.NewID = func() solana.PublicKey { return solana.NewWallet().PublicKey() }
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

// Registration is the outcome of a successful Register, Update or Deactivate call.
type Registration struct {
	Device    models.Device
	Signature solana.Signature
}

// Register creates an active device record of the given type and announces it with a
// zero-value transfer to the program.
func (s *Service) Register(ctx context.Context, deviceType string) (Registration, error) {
	const op = "register device"

	if !s.ledger.Connected() {
		return Registration{}, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	deviceType = strings.TrimSpace(deviceType)
	if err := validateType(op, deviceType); err != nil {
		return Registration{}, err
	}
	signer, ok := s.ledger.Signer()
	if !ok {
		return Registration{}, ledger.Wrap(ledger.KindSubmission, op, ledger.ErrNoSigner)
	}
	program, ok := s.ledger.ProgramID()
	if !ok {
		return Registration{}, ledger.Wrap(ledger.KindConfiguration, op, ledger.ErrNoProgramID)
	}

	record := models.Device{
		ID:         s.opts.NewID().String(),
		Owner:      signer.String(),
		Type:       deviceType,
		Status:     models.DeviceStatusActive,
		LastUpdate: s.opts.Now().UnixMilli(),
	}
	tag, err := s.opts.Payload.Tag(record)
	if err != nil {
		return Registration{}, ledger.Wrap(ledger.KindSubmission, op, err)
	}

	signature, err := s.ledger.SubmitTaggedTransfer(ctx, signer, program, 0, tag)
	if err != nil {
		return Registration{}, ledger.Rewrap(ledger.KindSubmission, op, err)
	}

	s.opts.Logger.Info("device registered",
		"signature", signature.String(),
		"device_id", record.ID,
		"type", record.Type,
	)
	return Registration{Device: record, Signature: signature}, nil
}

// Update changes the type of the device with the given ID and bumps its last update
// time. Only the device owner may update it.
func (s *Service) Update(ctx context.Context, id, deviceType string) (Registration, error) {
	const op = "update device"

	deviceType = strings.TrimSpace(deviceType)
	if err := validateType(op, deviceType); err != nil {
		return Registration{}, err
	}
	return s.change(ctx, op, patchUpdate, id, func(d *models.Device) map[string]any {
		d.Type = deviceType
		return map[string]any{"type": deviceType}
	})
}

// Deactivate marks the device with the given ID inactive and bumps its last update time.
// The record is kept. Only the device owner may deactivate it.
func (s *Service) Deactivate(ctx context.Context, id string) (Registration, error) {
	return s.change(ctx, "deactivate device", patchDeactivate, id, func(d *models.Device) map[string]any {
		d.Status = models.DeviceStatusInactive
		return map[string]any{"status": models.DeviceStatusInactive}
	})
}

// change looks up the device record, applies mutate locally and submits the matching
// record patch to the program.
func (s *Service) change(ctx context.Context, op, patchOp, id string, mutate func(*models.Device) map[string]any) (Registration, error) {
	if !s.ledger.Connected() {
		return Registration{}, ledger.Wrap(ledger.KindConnection, op, ledger.ErrNotConnected)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Registration{}, ledger.Errorf(ledger.KindValidation, op, "device id is required")
	}
	if s.opts.Payload == ledger.PayloadBare {
		return Registration{}, ledger.Errorf(ledger.KindConfiguration, op, "payload mode %q cannot carry record updates", s.opts.Payload)
	}
	signer, ok := s.ledger.Signer()
	if !ok {
		return Registration{}, ledger.Wrap(ledger.KindSubmission, op, ledger.ErrNoSigner)
	}
	program, ok := s.ledger.ProgramID()
	if !ok {
		return Registration{}, ledger.Wrap(ledger.KindConfiguration, op, ledger.ErrNoProgramID)
	}

	account, current, err := s.find(ctx, program, id)
	if err != nil {
		return Registration{}, ledger.Rewrap(ledger.KindRetrieval, op, err)
	}
	if current.Owner != signer.String() {
		return Registration{}, ledger.Errorf(ledger.KindValidation, op, "%w: device %s is owned by %q", ledger.ErrUnauthorized, id, current.Owner)
	}

	updated := current
	set := mutate(&updated)
	updated.LastUpdate = s.opts.Now().UnixMilli()
	set["lastUpdate"] = updated.LastUpdate

	tag, err := s.opts.Payload.Tag(ledger.RecordPatch{
		Op:          patchOp,
		Account:     account,
		Match:       map[string]any{"id": id},
		SignerField: "owner",
		Set:         set,
	})
	if err != nil {
		return Registration{}, ledger.Wrap(ledger.KindSubmission, op, err)
	}

	signature, err := s.ledger.SubmitTaggedTransfer(ctx, signer, program, 0, tag)
	if err != nil {
		return Registration{}, ledger.Rewrap(ledger.KindSubmission, op, err)
	}

	s.opts.Logger.Info("device changed",
		"op", patchOp,
		"signature", signature.String(),
		"device_id", id,
		"status", updated.Status,
	)
	return Registration{Device: updated, Signature: signature}, nil
}

// find returns the record account holding the device with id. Accounts that do not
// decode as devices are skipped.
func (s *Service) find(ctx context.Context, program solana.PublicKey, id string) (solana.PublicKey, models.Device, error) {
	accounts, err := s.ledger.ListProgramAccounts(ctx, program)
	if err != nil {
		return solana.PublicKey{}, models.Device{}, err
	}
	for _, account := range accounts {
		var device models.Device
		if err := json.Unmarshal(account.Data, &device); err != nil {
			continue
		}
		if device.ID == id {
			return account.Pubkey, device, nil
		}
	}
	return solana.PublicKey{}, models.Device{}, ledger.Errorf(ledger.KindValidation, "find device", "%w: %s", ErrUnknownDevice, id)
}

// ListFromLedger decodes every program account as a device record. Any account whose
// data is not a JSON object, including an empty one, fails the whole call.
func (s *Service) ListFromLedger(ctx context.Context) ([]models.Device, error) {
	const op = "list devices"

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

	devices := make([]models.Device, 0, len(accounts))
	for _, account := range accounts {
		var device models.Device
		if err := json.Unmarshal(account.Data, &device); err != nil {
			return nil, ledger.Errorf(ledger.KindParse, op, "decode account %s: %w", account.Pubkey, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func validateType(op, deviceType string) error {
	if deviceType == "" {
		return ledger.Errorf(ledger.KindValidation, op, "device type is required")
	}
	if len(deviceType) > MaxTypeBytes {
		return ledger.Errorf(ledger.KindValidation, op, "device type is %d bytes, limit is %d", len(deviceType), MaxTypeBytes)
	}
	return nil
}

// ListSimulated returns the fixed placeholder device names. It never touches the ledger.
func (s *Service) ListSimulated() []string {
	return append([]string(nil), simulatedDevices...)
}
