// Package interpret provides a command that shows what the webhook would
// make of a notification payload, without touching the catalog.
package interpret

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/cmd/output"
	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/events"
)

// NewCommand creates the interpret command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "interpret [file|-]",
		GroupID: "debug",
		Short:   "Show whether a notification payload would trigger a reconciliation",
		Example: `  # Read a captured payload from a file
  dupewatch interpret payload.json

  # Or from stdin, as a form-encoded body
  pbpaste | dupewatch interpret --content-type application/x-www-form-urlencoded`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentType, _ := cmd.Flags().GetString("content-type")
			field, _ := cmd.Flags().GetString("field")

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			body, err := readPayload(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			n, err := events.Decode(contentType, body)
			if err != nil {
				return err
			}
			change, ok := events.InterpretField(n, field)

			app.Logger().Debug().
				Str("asset_id", n.AssetID).
				Bool("triggered", ok).
				Msg("Interpreted notification")

			report := output.NewChangeReport(n, field, change, ok)
			format := output.DetectFormat(app.OutputFormat())
			return output.NewFormatter(format).Format(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().String("content-type", "application/json", "Content type of the payload")
	cmd.Flags().String("field", constants.ChecksumField, "Metadata field carrying the checksum")

	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, constants.MaxWebhookBodySize+1))
		if err != nil {
			return nil, errors.WrapResource("read", "payload", "stdin", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapResource("read", "payload", path, err)
	}
	return data, nil
}
