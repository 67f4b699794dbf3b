package events

import "github.com/agentstation/dupewatch/pkg/constants"

// Interpret extracts the checksum change from a notification. It reports
// false when there is nothing to act on: no asset id, no checksum record,
// or an empty new value.
func Interpret(n *ChangeNotification) (ChecksumChange, bool) {
	return InterpretField(n, constants.ChecksumField)
}

// InterpretField is Interpret for a checksum stored under a different field.
func InterpretField(n *ChangeNotification, field string) (ChecksumChange, bool) {
	if n == nil || n.AssetID == "" {
		return ChecksumChange{}, false
	}

	rec, ok := n.ChangedMetadata[field]
	if !ok || rec.NewValue == nil || *rec.NewValue == "" {
		return ChecksumChange{}, false
	}

	return ChecksumChange{AssetID: n.AssetID, NewChecksum: *rec.NewValue}, true
}
