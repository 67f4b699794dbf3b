package output

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/events"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFormatExplicit(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("YAML"))
}

func TestNewFormatter(t *testing.T) {
	assert.IsType(t, &JSONFormatter{}, NewFormatter(FormatJSON))
	assert.IsType(t, &YAMLFormatter{}, NewFormatter(FormatYAML))
	assert.IsType(t, &TableFormatter{}, NewFormatter(FormatTable))
	assert.IsType(t, &TableFormatter{}, NewFormatter("unknown"))
}

func TestTableFormatterData(t *testing.T) {
	var buf bytes.Buffer
	err := NewFormatter(FormatTable).Format(&buf, Data{
		Headers: []string{"Asset", "Checksum"},
		Rows:    [][]string{{"A1", "abc123"}, {"B2", "abc123"}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "ASSET")
	assert.Contains(t, out, "A1")
	assert.Contains(t, out, "B2")
}

func TestTableFormatterReflection(t *testing.T) {
	type row struct {
		AssetID  string `json:"asset_id"`
		Flagged  bool   `json:"flagged"`
		Internal string
	}

	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, []row{{AssetID: "A1", Flagged: true, Internal: "x"}}))
	out := strings.ToUpper(buf.String())
	assert.Contains(t, out, "ASSET ID")
	assert.Contains(t, out, "INTERNAL")
	assert.Contains(t, out, "TRUE")

	buf.Reset()
	require.NoError(t, (&TableFormatter{}).Format(&buf, row{AssetID: "B2"}))
	assert.Contains(t, buf.String(), "Asset Id")
	assert.Contains(t, buf.String(), "B2")
}

func TestTableFormatterFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, map[string]int{"hits": 2}))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 2, decoded["hits"])
}

func reconcileForReport(t *testing.T) *reconciler.Result {
	t.Helper()
	mem := catalog.NewMemory(catalog.WithAssets(
		catalog.Asset{ID: "A1", Metadata: map[string]any{"firstExtractedChecksum": "abc123"}},
		catalog.Asset{ID: "B2", Metadata: map[string]any{"firstExtractedChecksum": "abc123"}},
		catalog.Asset{ID: "C3", Metadata: map[string]any{"firstExtractedChecksum": "abc123"}},
	))
	mem.FailRelationTo("C3", errors.New("permission denied"))

	rec, err := reconciler.New(mem)
	require.NoError(t, err)
	res, _ := rec.Reconcile(context.Background(), "A1", "abc123")
	require.NotNil(t, res)
	return res
}

func TestResultReport(t *testing.T) {
	report := NewResultReport(reconcileForReport(t))

	assert.Equal(t, "A1", report.AssetID)
	assert.Equal(t, []string{"B2", "C3"}, report.Duplicates)
	assert.True(t, report.Flagged)
	assert.Equal(t, "done", report.Stage)
	require.Len(t, report.Relations, 2)
	assert.Equal(t, RelationReport{Target: "B2", Status: "created"}, report.Relations[0])
	assert.Equal(t, "failed", report.Relations[1].Status)
	assert.Contains(t, report.Relations[1].Error, "permission denied")
	assert.Len(t, report.Errors, 1)

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, report))
	assert.Contains(t, buf.String(), "Relation → C3")

	buf.Reset()
	require.NoError(t, NewFormatter(FormatYAML).Format(&buf, report))
	assert.Contains(t, buf.String(), "asset_id: A1")
	assert.Contains(t, buf.String(), "- B2")

	buf.Reset()
	require.NoError(t, NewFormatter(FormatJSON).Format(&buf, report))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, true, decoded["flag_updated"])
}

func TestResultReportNil(t *testing.T) {
	report := NewResultReport(nil)
	assert.Empty(t, report.Duplicates)
	assert.NotNil(t, report.Relations)
}

func TestChangeReport(t *testing.T) {
	n := &events.ChangeNotification{
		AssetID:         "A1",
		ChangedMetadata: map[string]events.ChangeRecord{"firstExtractedChecksum": {}},
	}

	report := NewChangeReport(n, "firstExtractedChecksum", events.ChecksumChange{}, false)
	assert.False(t, report.Triggered)
	assert.Equal(t, 1, report.Fields)
	assert.Empty(t, report.NewChecksum)

	report = NewChangeReport(n, "firstExtractedChecksum", events.ChecksumChange{AssetID: "A1", NewChecksum: "abc"}, true)
	assert.True(t, report.Triggered)
	assert.Equal(t, "abc", report.NewChecksum)
}
