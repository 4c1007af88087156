package models

import "encoding/json"

const (
	// DeviceStatusActive is the status of a freshly registered device.
	DeviceStatusActive = "active"
	// DeviceStatusInactive marks a deactivated device. Its record stays on the ledger.
	DeviceStatusInactive = "inactive"
)

// Device is a device record announced on the ledger.
type Device struct {
	ID         string         `json:"id"`
	Owner      string         `json:"owner,omitempty"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	LastUpdate int64          `json:"lastUpdate"`
	Extensions map[string]any `json:"-"`
}

type deviceFields struct {
	ID         string `json:"id"`
	Owner      string `json:"owner,omitempty"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	LastUpdate int64  `json:"lastUpdate"`
}

var deviceKeys = []string{"id", "owner", "type", "status", "lastUpdate"}

func (d Device) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(deviceFields{
		ID:         d.ID,
		Owner:      d.Owner,
		Type:       d.Type,
		Status:     d.Status,
		LastUpdate: d.LastUpdate,
	}, d.Extensions, deviceKeys)
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var fields deviceFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extensions, err := unmarshalExtensions(data, deviceKeys)
	if err != nil {
		return err
	}

	*d = Device{
		ID:         fields.ID,
		Owner:      fields.Owner,
		Type:       fields.Type,
		Status:     fields.Status,
		LastUpdate: fields.LastUpdate,
		Extensions: extensions,
	}
	return nil
}
