package interpret

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/cmd/output"
)

func run(t *testing.T, stdin string, args ...string) (output.ChangeReport, error) {
	t.Helper()
	cmd := NewCommand(&application.Mock{Format: "json"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	var report output.ChangeReport
	if err := cmd.Execute(); err != nil {
		return report, err
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	return report, nil
}

func TestInterpretStdin(t *testing.T) {
	report, err := run(t, `{"assetId":"A1","changedMetadata":{"firstExtractedChecksum":{"newValue":"abc123"}}}`)
	require.NoError(t, err)
	assert.Equal(t, output.ChangeReport{
		AssetID:     "A1",
		Triggered:   true,
		NewChecksum: "abc123",
		Field:       "firstExtractedChecksum",
		Fields:      1,
	}, report)
}

func TestInterpretNoChecksumChange(t *testing.T) {
	report, err := run(t, `{"assetId":"A1","changedMetadata":{}}`, "-")
	require.NoError(t, err)
	assert.False(t, report.Triggered)
	assert.Empty(t, report.NewChecksum)
}

func TestInterpretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"assetId":"B2","changedMetadata":{"md5":{"newValue":"x"}}}`), 0o600))

	report, err := run(t, "", path, "--field", "md5")
	require.NoError(t, err)
	assert.True(t, report.Triggered)
	assert.Equal(t, "x", report.NewChecksum)
	assert.Equal(t, "md5", report.Field)
}

func TestInterpretMalformed(t *testing.T) {
	_, err := run(t, `not json`)
	assert.Error(t, err)

	_, err = run(t, "", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
