package models

import "encoding/json"

// Message is a message record announced on the ledger. Unknown JSON fields are kept in
// Extensions and written back flat alongside the known ones.
type Message struct {
	Sender     string         `json:"sender"`
	Recipient  string         `json:"recipient"`
	Content    string         `json:"content"`
	Timestamp  int64          `json:"timestamp"`
	Read       bool           `json:"read,omitempty"`
	Extensions map[string]any `json:"-"`
}

type messageFields struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read,omitempty"`
}

var messageKeys = []string{"sender", "recipient", "content", "timestamp", "read"}

func (m Message) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(messageFields{
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Read:      m.Read,
	}, m.Extensions, messageKeys)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var fields messageFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extensions, err := unmarshalExtensions(data, messageKeys)
	if err != nil {
		return err
	}

	*m = Message{
		Sender:     fields.Sender,
		Recipient:  fields.Recipient,
		Content:    fields.Content,
		Timestamp:  fields.Timestamp,
		Read:       fields.Read,
		Extensions: extensions,
	}
	return nil
}
