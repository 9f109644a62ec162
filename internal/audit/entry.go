package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Action is the kind of configuration change an entry records.
type Action string

const (
	ActionServiceEnable    Action = "service.enable"
	ActionServiceDisable   Action = "service.disable"
	ActionPermissionChange Action = "permission.change"
	ActionPIIToggle        Action = "pii.toggle"
	ActionConfigReset      Action = "config.reset"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionServiceEnable, ActionServiceDisable, ActionPermissionChange, ActionPIIToggle, ActionConfigReset:
		return true
	}
	return false
}

// Event is what callers hand to Record. The log adds the timestamp and
// the hash chain fields.
type Event struct {
	Action        Action
	ServiceID     string
	PreviousValue any
	NewValue      any
	Source        string
}

// Entry is one line of the JSONL audit log. Values are stored in
// canonical JSON (object keys sorted) so the hash can be recomputed from
// the line alone.
type Entry struct {
	Timestamp     string          `json:"timestamp"`
	Action        Action          `json:"action"`
	ServiceID     string          `json:"serviceId"`
	PreviousValue json.RawMessage `json:"previousValue"`
	NewValue      json.RawMessage `json:"newValue"`
	Source        string          `json:"source"`
	PreviousHash  string          `json:"_previousHash"`
	Hash          string          `json:"_hash"`
}

// businessFields is the hashed part of an Entry, in fixed field order.
type businessFields struct {
	Timestamp     string          `json:"timestamp"`
	Action        Action          `json:"action"`
	ServiceID     string          `json:"serviceId"`
	PreviousValue json.RawMessage `json:"previousValue"`
	NewValue      json.RawMessage `json:"newValue"`
	Source        string          `json:"source"`
}

// canonicalJSON returns the serialized business fields of e.
func (e Entry) canonicalJSON() ([]byte, error) {
	prev, err := canonicalize(e.PreviousValue)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize previousValue")
	}
	next, err := canonicalize(e.NewValue)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize newValue")
	}
	return json.Marshal(businessFields{
		Timestamp:     e.Timestamp,
		Action:        e.Action,
		ServiceID:     e.ServiceID,
		PreviousValue: prev,
		NewValue:      next,
		Source:        e.Source,
	})
}

// ComputeHash returns hex(sha256(prevHash + body)).
func ComputeHash(prevHash string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// encodeValue turns an arbitrary value into canonical JSON.
func encodeValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

// canonicalize re-encodes raw JSON so object keys are sorted and numbers
// keep their literal form. Empty input becomes null.
func canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}
