// Package events interprets catalog change notifications.
//
// A notification names the asset that changed and, per metadata field, the
// old and new values. Only the firstExtractedChecksum record matters to
// dupewatch; everything else is tolerated and ignored. Nothing in this
// package performs I/O or logs.
package events

import (
	"bytes"
	"encoding/json"
)

// ChangeRecord is the old and new value of one changed metadata field.
// A nil pointer means the value was absent or not representable as text.
type ChangeRecord struct {
	OldValue *string `json:"oldValue,omitempty"`
	NewValue *string `json:"newValue,omitempty"`
}

// ChangeNotification is the body the catalog posts when asset metadata changes.
type ChangeNotification struct {
	AssetID         string                  `json:"assetId"`
	ChangedMetadata map[string]ChangeRecord `json:"changedMetadata,omitempty"`
	Action          string                  `json:"action,omitempty"`
	UserName        string                  `json:"userName,omitempty"`
	Metadata        map[string]any          `json:"metadata,omitempty"`
}

// ChecksumChange is the actionable part of a notification: which asset now
// carries which checksum.
type ChecksumChange struct {
	AssetID     string `json:"assetId"`
	NewChecksum string `json:"newChecksum"`
}

// UnmarshalJSON decodes a record, treating anything but an object as empty.
func (r *ChangeRecord) UnmarshalJSON(data []byte) error {
	*r = ChangeRecord{}
	if !isObject(data) {
		return nil
	}

	var raw struct {
		OldValue json.RawMessage `json:"oldValue"`
		NewValue json.RawMessage `json:"newValue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	if v, ok := scalarText(raw.OldValue); ok {
		r.OldValue = &v
	}
	if v, ok := scalarText(raw.NewValue); ok {
		r.NewValue = &v
	}
	return nil
}

// UnmarshalJSON decodes a notification. The top level must be an object;
// below it, fields of unexpected shape are dropped rather than rejected.
func (n *ChangeNotification) UnmarshalJSON(data []byte) error {
	var raw struct {
		AssetID         json.RawMessage `json:"assetId"`
		ChangedMetadata json.RawMessage `json:"changedMetadata"`
		Action          json.RawMessage `json:"action"`
		UserName        json.RawMessage `json:"userName"`
		Metadata        json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = ChangeNotification{}
	n.AssetID, _ = scalarText(raw.AssetID)
	n.Action, _ = scalarText(raw.Action)
	n.UserName, _ = scalarText(raw.UserName)

	if isObject(raw.ChangedMetadata) {
		var changed map[string]ChangeRecord
		if err := json.Unmarshal(raw.ChangedMetadata, &changed); err == nil {
			n.ChangedMetadata = changed
		}
	}
	if isObject(raw.Metadata) {
		var md map[string]any
		if err := json.Unmarshal(raw.Metadata, &md); err == nil {
			n.Metadata = md
		}
	}
	return nil
}

func isObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}

// scalarText renders a JSON string or number as text. Null, booleans,
// objects and arrays have no text form.
func scalarText(data json.RawMessage) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", false
	}

	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		return s, true
	case c == '-' || (c >= '0' && c <= '9'):
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return "", false
		}
		return num.String(), true
	default:
		return "", false
	}
}
