package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/dupewatch/cmd/dupewatch/cmd/interpret"
	"github.com/agentstation/dupewatch/cmd/dupewatch/cmd/reconcile"
	"github.com/agentstation/dupewatch/cmd/dupewatch/cmd/serve"
	"github.com/agentstation/dupewatch/cmd/dupewatch/cmd/version"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.CreateServeCommand())
	rootCmd.AddCommand(a.CreateReconcileCommand())
	rootCmd.AddCommand(a.CreateInterpretCommand())
	rootCmd.AddCommand(a.CreateVersionCommand())
}

// CreateServeCommand creates the serve command. Flag defaults come from
// the loaded configuration, read when the command runs.
func (a *App) CreateServeCommand() *cobra.Command {
	return serve.NewCommand(a, a.ServerConfig)
}

// CreateReconcileCommand creates the reconcile command with app dependencies.
func (a *App) CreateReconcileCommand() *cobra.Command {
	return reconcile.NewCommand(a, a.ReconcilerFor)
}

// CreateInterpretCommand creates the interpret command.
func (a *App) CreateInterpretCommand() *cobra.Command {
	return interpret.NewCommand(a)
}

// CreateVersionCommand creates the version command.
func (a *App) CreateVersionCommand() *cobra.Command {
	return version.NewCommand(a)
}
