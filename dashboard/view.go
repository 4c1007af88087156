// Package dashboard holds the dashboard view state and serves it over HTTP.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"

	"iotpanel/device"
	"iotpanel/ledger"
	"iotpanel/message"
	"iotpanel/models"
)

const (
	StatusMessageSent       = "Message sent successfully."
	StatusMessageRead       = "Message marked as read."
	StatusDeviceRegistered  = "Device registered successfully."
	StatusDeviceUpdated     = "Device updated successfully."
	StatusDeviceDeactivated = "Device deactivated successfully."

	seriesPoints   = 10
	seriesMaxValue = 100
)

// DeviceSource selects where the device list comes from.
type DeviceSource string

const (
	DeviceSourceSimulated DeviceSource = "simulated"
	DeviceSourceLedger    DeviceSource = "ledger"
)

// ParseDeviceSource validates a device source name. Empty selects the simulated list.
func ParseDeviceSource(value string) (DeviceSource, error) {
	switch s := DeviceSource(strings.ToLower(strings.TrimSpace(value))); s {
	case "":
		return DeviceSourceSimulated, nil
	case DeviceSourceSimulated, DeviceSourceLedger:
		return s, nil
	default:
		return "", fmt.Errorf("invalid device source %q", value)
	}
}

// Messenger is the message service as seen by the view.
type Messenger interface {
	Send(ctx context.Context, recipient solana.PublicKey, content string) (solana.Signature, error)
	List(ctx context.Context) ([]string, error)
	Records(ctx context.Context) ([]message.Record, error)
	MarkRead(ctx context.Context, account solana.PublicKey) (solana.Signature, error)
}

// Registry is the device service as seen by the view.
type Registry interface {
	Register(ctx context.Context, deviceType string) (device.Registration, error)
	Update(ctx context.Context, id, deviceType string) (device.Registration, error)
	Deactivate(ctx context.Context, id string) (device.Registration, error)
	ListFromLedger(ctx context.Context) ([]models.Device, error)
	ListSimulated() []string
}

// Wallet reports the signer's balance and recent transactions.
type Wallet interface {
	Wallet(ctx context.Context, limit int) (ledger.WalletSummary, error)
}

// ViewOptions wires the view. Connect is called once by Mount. Wallet is optional.
type ViewOptions struct {
	Connect      func(ctx context.Context) error
	DeviceSource DeviceSource
	Wallet       Wallet
	// IntN returns a uniform integer in [0, n). Defaults to math/rand/v2.
	IntN   func(n int) int
	Logger *slog.Logger
}

func (o ViewOptions) withDefaults() ViewOptions {
	out := o
	if out.Connect == nil {
		out.Connect = func(context.Context) error { return nil }
	}
	if out.DeviceSource == "" {
		out.DeviceSource = DeviceSourceSimulated
	}
	if out.IntN == nil {
		out.IntN = rand.IntN
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

// State is a snapshot of everything the dashboard shows.
type State struct {
	DraftMessage    string                `json:"draft_message"`
	DraftRecipient  string                `json:"draft_recipient"`
	DraftDeviceType string                `json:"draft_device_type"`
	Status          string                `json:"status"`
	Messages        []string              `json:"messages"`
	Devices         []string              `json:"devices"`
	DeviceSource    DeviceSource          `json:"device_source"`
	SelectedDevice  string                `json:"selected_device"`
	Series          *models.Series        `json:"series,omitempty"`
	Wallet          *ledger.WalletSummary `json:"wallet,omitempty"`
	Mounted         bool                  `json:"mounted"`
}

// View owns dashboard state. Service calls run without holding the state lock.
type View struct {
	messages Messenger
	devices  Registry
	opts     ViewOptions

	mu    sync.RWMutex
	state State
}

func NewView(messages Messenger, devices Registry, opts ViewOptions) *View {
	opts = opts.withDefaults()
	return &View{
		messages: messages,
		devices:  devices,
		opts:     opts,
		state: State{
			Messages:     []string{},
			Devices:      []string{},
			DeviceSource: opts.DeviceSource,
		},
	}
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := v.state
	out.Messages = append([]string{}, v.state.Messages...)
	out.Devices = append([]string{}, v.state.Devices...)
	if v.state.Series != nil {
		series := *v.state.Series
		series.Points = append([]models.Point(nil), v.state.Series.Points...)
		out.Series = &series
	}
	if v.state.Wallet != nil {
		wallet := *v.state.Wallet
		wallet.Activity = append([]ledger.Activity{}, v.state.Wallet.Activity...)
		out.Wallet = &wallet
	}
	return out
}

// Mount connects to the ledger and loads the message and device lists. Both lists are
// loaded even when one fails; failures are reported through the status text and
// returned joined. A wallet failure is only logged.
func (v *View) Mount(ctx context.Context) error {
	if err := v.opts.Connect(ctx); err != nil {
		v.fail("mount", err)
		return err
	}
	v.update(func(s *State) { s.Mounted = true })

	_, messagesErr := v.RefreshMessages(ctx)
	_, devicesErr := v.RefreshDevices(ctx)
	v.refreshWalletQuietly(ctx, "mount")
	return errors.Join(messagesErr, devicesErr)
}

// SendMessage validates the recipient, sends content and refreshes the message list.
// Drafts are cleared only on success.
func (v *View) SendMessage(ctx context.Context, recipient, content string) (solana.Signature, error) {
	v.update(func(s *State) {
		s.DraftRecipient = recipient
		s.DraftMessage = content
	})

	to, err := solana.PublicKeyFromBase58(strings.TrimSpace(recipient))
	if err != nil {
		err = ledger.Errorf(ledger.KindValidation, "send message", "invalid recipient %q: %w", recipient, err)
		v.fail("send message", err)
		return solana.Signature{}, err
	}

	signature, err := v.messages.Send(ctx, to, content)
	if err != nil {
		v.fail("send message", err)
		return solana.Signature{}, err
	}

	v.update(func(s *State) {
		s.DraftRecipient = ""
		s.DraftMessage = ""
		s.Status = StatusMessageSent
	})
	if _, err := v.RefreshMessages(ctx); err != nil {
		v.opts.Logger.Warn("refresh messages after send", "error", err)
	}
	v.refreshWalletQuietly(ctx, "send message")
	return signature, nil
}

// MarkMessageRead flags the message stored at account as read and refreshes the message
// list.
func (v *View) MarkMessageRead(ctx context.Context, account string) (solana.Signature, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(account))
	if err != nil {
		err = ledger.Errorf(ledger.KindValidation, "mark message read", "invalid account %q: %w", account, err)
		v.fail("mark message read", err)
		return solana.Signature{}, err
	}

	signature, err := v.messages.MarkRead(ctx, key)
	if err != nil {
		v.fail("mark message read", err)
		return solana.Signature{}, err
	}

	v.update(func(s *State) { s.Status = StatusMessageRead })
	if _, err := v.RefreshMessages(ctx); err != nil {
		v.opts.Logger.Warn("refresh messages after mark read", "error", err)
	}
	v.refreshWalletQuietly(ctx, "mark message read")
	return signature, nil
}

// MessageRecords returns the decoded message records without touching state.
func (v *View) MessageRecords(ctx context.Context) ([]message.Record, error) {
	return v.messages.Records(ctx)
}

// RegisterDevice registers a device of deviceType and refreshes the device list.
func (v *View) RegisterDevice(ctx context.Context, deviceType string) (device.Registration, error) {
	v.update(func(s *State) { s.DraftDeviceType = deviceType })

	reg, err := v.devices.Register(ctx, deviceType)
	if err != nil {
		v.fail("register device", err)
		return device.Registration{}, err
	}

	v.update(func(s *State) {
		s.DraftDeviceType = ""
		s.Status = StatusDeviceRegistered
	})
	if _, err := v.RefreshDevices(ctx); err != nil {
		v.opts.Logger.Warn("refresh devices after register", "error", err)
	}
	v.refreshWalletQuietly(ctx, "register device")
	return reg, nil
}

// UpdateDevice changes the type of the device with id and refreshes the device list.
func (v *View) UpdateDevice(ctx context.Context, id, deviceType string) (device.Registration, error) {
	change, err := v.devices.Update(ctx, id, deviceType)
	if err != nil {
		v.fail("update device", err)
		return device.Registration{}, err
	}
	v.afterDeviceChange(ctx, StatusDeviceUpdated)
	return change, nil
}

// DeactivateDevice marks the device with id inactive and refreshes the device list.
func (v *View) DeactivateDevice(ctx context.Context, id string) (device.Registration, error) {
	change, err := v.devices.Deactivate(ctx, id)
	if err != nil {
		v.fail("deactivate device", err)
		return device.Registration{}, err
	}
	v.afterDeviceChange(ctx, StatusDeviceDeactivated)
	return change, nil
}

func (v *View) afterDeviceChange(ctx context.Context, status string) {
	v.update(func(s *State) { s.Status = status })
	if _, err := v.RefreshDevices(ctx); err != nil {
		v.opts.Logger.Warn("refresh devices after change", "error", err)
	}
	v.refreshWalletQuietly(ctx, "change device")
}

// SelectDevice makes name the selected device and charts ten simulated readings for it.
func (v *View) SelectDevice(name string) models.Series {
	series := models.Series{
		Label:  name + " Data",
		Points: make([]models.Point, seriesPoints),
	}
	for i := range series.Points {
		series.Points[i] = models.Point{
			Label: strconv.Itoa(i),
			Value: v.opts.IntN(seriesMaxValue),
		}
	}

	v.update(func(s *State) {
		s.SelectedDevice = name
		stored := series
		stored.Points = append([]models.Point(nil), series.Points...)
		s.Series = &stored
	})
	return series
}

// RefreshMessages reloads the message list from the ledger.
func (v *View) RefreshMessages(ctx context.Context) ([]string, error) {
	messages, err := v.messages.List(ctx)
	if err != nil {
		v.fail("list messages", err)
		return nil, err
	}

	v.update(func(s *State) { s.Messages = append([]string{}, messages...) })
	return messages, nil
}

// RefreshDevices reloads the device list from the configured source.
func (v *View) RefreshDevices(ctx context.Context) ([]string, error) {
	var names []string
	switch v.opts.DeviceSource {
	case DeviceSourceLedger:
		devices, err := v.devices.ListFromLedger(ctx)
		if err != nil {
			v.fail("list devices", err)
			return nil, err
		}
		names = deviceNames(devices)
	default:
		names = v.devices.ListSimulated()
	}

	v.update(func(s *State) { s.Devices = append([]string{}, names...) })
	return names, nil
}

// RefreshWallet reloads the signer's balance and recent transactions.
func (v *View) RefreshWallet(ctx context.Context) (ledger.WalletSummary, error) {
	if v.opts.Wallet == nil {
		return ledger.WalletSummary{}, ledger.Errorf(ledger.KindConfiguration, "read wallet", "no wallet configured")
	}

	wallet, err := v.opts.Wallet.Wallet(ctx, ledger.DefaultActivityLimit)
	if err != nil {
		return ledger.WalletSummary{}, err
	}

	v.update(func(s *State) {
		stored := wallet
		stored.Activity = append([]ledger.Activity{}, wallet.Activity...)
		s.Wallet = &stored
	})
	return wallet, nil
}

func (v *View) refreshWalletQuietly(ctx context.Context, after string) {
	if v.opts.Wallet == nil {
		return
	}
	if _, err := v.RefreshWallet(ctx); err != nil {
		v.opts.Logger.Warn("refresh wallet", "after", after, "error", err)
	}
}

// SimulatedDevices returns the placeholder device names without touching state.
func (v *View) SimulatedDevices() []string {
	return v.devices.ListSimulated()
}

// LedgerDevices returns the device records stored on the ledger without touching state.
func (v *View) LedgerDevices(ctx context.Context) ([]models.Device, error) {
	return v.devices.ListFromLedger(ctx)
}

func (v *View) update(fn func(*State)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.state)
}

func (v *View) fail(action string, err error) {
	v.opts.Logger.Warn("dashboard action failed",
		"action", action,
		"kind", ledger.KindOf(err).String(),
		"error", err,
	)
	v.update(func(s *State) { s.Status = "Error: " + err.Error() })
}

func deviceNames(devices []models.Device) []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		switch {
		case d.Type != "" && d.ID != "":
			names = append(names, d.Type+" ("+shortID(d.ID)+")")
		case d.Type != "":
			names = append(names, d.Type)
		default:
			names = append(names, shortID(d.ID))
		}
	}
	return names
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
