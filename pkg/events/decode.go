package events

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"github.com/agentstation/dupewatch/pkg/errors"
)

// Supported notification content types.
const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// Decode parses a notification body. JSON is assumed when the content type
// is missing or unrecognised. Forms may carry the whole notification as
// JSON in a "payload" field, or flat fields: assetId plus changedMetadata
// either as a JSON string or in bracket notation
// (changedMetadata[firstExtractedChecksum][newValue]=...).
//
// Failures are returned as a *errors.ReconcileError of kind MalformedPayload.
func Decode(contentType string, body []byte) (*ChangeNotification, error) {
	mediaType := ContentTypeJSON
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}

	var (
		n   *ChangeNotification
		err error
	)
	switch mediaType {
	case ContentTypeForm:
		n, err = decodeForm(body)
	default:
		n, err = decodeJSON(body)
	}
	if err != nil {
		return nil, errors.NewReconcileError(errors.KindMalformedPayload, "", "", err)
	}
	return n, nil
}

func decodeJSON(body []byte) (*ChangeNotification, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.NewParseError("json", "body", "empty body", nil)
	}

	var n ChangeNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errors.WrapParse("json", "body", err)
	}
	return &n, nil
}

func decodeForm(body []byte) (*ChangeNotification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errors.WrapParse("form", "body", err)
	}

	if payload := values.Get("payload"); payload != "" {
		return decodeJSON([]byte(payload))
	}

	n := &ChangeNotification{
		AssetID:  values.Get("assetId"),
		Action:   values.Get("action"),
		UserName: values.Get("userName"),
	}

	if raw := values.Get("changedMetadata"); raw != "" {
		var changed map[string]ChangeRecord
		if isObject([]byte(raw)) && json.Unmarshal([]byte(raw), &changed) == nil {
			n.ChangedMetadata = changed
		}
		return n, nil
	}

	for key, vals := range values {
		field, attr, ok := bracketKey(key)
		if !ok || len(vals) == 0 {
			continue
		}
		if n.ChangedMetadata == nil {
			n.ChangedMetadata = make(map[string]ChangeRecord)
		}
		rec := n.ChangedMetadata[field]
		v := vals[0]
		switch attr {
		case "newValue":
			rec.NewValue = &v
		case "oldValue":
			rec.OldValue = &v
		}
		n.ChangedMetadata[field] = rec
	}
	return n, nil
}

// bracketKey splits "changedMetadata[field][attr]".
func bracketKey(key string) (field, attr string, ok bool) {
	rest, ok := strings.CutPrefix(key, "changedMetadata[")
	if !ok {
		return "", "", false
	}
	field, rest, ok = strings.Cut(rest, "][")
	if !ok || field == "" {
		return "", "", false
	}
	attr, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return "", "", false
	}
	return field, attr, true
}
