// Package reconcile provides the command that reconciles one asset by hand.
package reconcile

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/cmd/output"
	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// ReconcilerFunc builds a reconciler over an explicit catalog.
type ReconcilerFunc func(client catalog.Client, opts ...reconciler.Option) (reconciler.Reconciler, error)

// NewCommand creates the reconcile command. forCatalog builds the
// reconciler used with --dry-run; nil means a plain reconciler.
func NewCommand(app application.Application, forCatalog ReconcilerFunc) *cobra.Command {
	if forCatalog == nil {
		forCatalog = func(client catalog.Client, opts ...reconciler.Option) (reconciler.Reconciler, error) {
			opts = append([]reconciler.Option{reconciler.WithLogger(app.Logger())}, opts...)
			return reconciler.New(client, opts...)
		}
	}

	cmd := &cobra.Command{
		Use:     "reconcile <asset-id> <checksum>",
		GroupID: "core",
		Short:   "Reconcile one asset against the catalog",
		Long: `Reconcile runs the same search, flag and relate steps a webhook would
trigger, for a single asset, and prints the outcome.

With --dry-run nothing is sent to the remote catalog: the reconciliation
runs against an in-memory catalog, optionally seeded from a YAML file:

  assets:
    - id: A1
      metadata:
        firstExtractedChecksum: abc123
  relations:
    - source: A1
      target: B2
      type: duplicate`,
		Example: `  # Reconcile asset A1 whose checksum is now abc123
  dupewatch reconcile A1 abc123

  # Try it against a local seed file and print YAML
  dupewatch reconcile A1 abc123 --dry-run --seed assets.yaml -o yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			seed, _ := cmd.Flags().GetString("seed")
			if seed != "" && !dryRun {
				return errors.NewValidationError("seed", seed, "only valid with --dry-run")
			}

			var (
				rec reconciler.Reconciler
				err error
			)
			if dryRun {
				var mem *catalog.Memory
				mem, err = seedCatalog(seed)
				if err != nil {
					return err
				}
				rec, err = forCatalog(mem)
			} else {
				rec, err = app.Reconciler()
			}
			if err != nil {
				return err
			}

			res, err := rec.Reconcile(cmd.Context(), args[0], args[1])
			if res == nil {
				return err
			}
			// Relations may still be settling when they are not awaited
			if werr := res.Wait(cmd.Context()); werr != nil && err == nil {
				err = werr
			}

			report := output.NewResultReport(res)
			report.DryRun = dryRun

			format := output.DetectFormat(app.OutputFormat())
			if ferr := output.NewFormatter(format).Format(cmd.OutOrStdout(), report); ferr != nil {
				return ferr
			}
			return err
		},
	}

	cmd.Flags().Bool("dry-run", false, "Reconcile against an in-memory catalog instead of the remote one")
	cmd.Flags().String("seed", "", "YAML file seeding the in-memory catalog (with --dry-run)")

	return cmd
}

// seedCatalog builds the dry-run catalog. An empty path gives an empty catalog.
func seedCatalog(path string) (*catalog.Memory, error) {
	if path == "" {
		return catalog.NewMemory(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapResource("read", "seed", path, err)
	}
	return catalog.NewMemoryFromYAML(data)
}
