package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult lists the schema migrations recorded in the database.
type MigrateResult struct {
	Dialect    string   `json:"dialect"`
	Migrations []string `json:"migrations"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every pending schema migration to the database and list the
applied versions. Migrations run in file name order, each in its own
transaction. Running it again is a no-op.

Examples:
  wofi migrate --db ./wofi.db
  wofi migrate --db postgres://localhost/wofi --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	// Opening the store applies pending migrations.
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	versions, err := a.store.AppliedMigrations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list migrations", err)
	}

	result := MigrateResult{Dialect: string(a.store.Dialect()), Migrations: versions}
	if result.Migrations == nil {
		result.Migrations = []string{}
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema up to date (%s, %d migration(s))\n", result.Dialect, len(result.Migrations))
	for _, v := range result.Migrations {
		formatter.VerboseLog("  %s", v)
	}
	return nil
}
