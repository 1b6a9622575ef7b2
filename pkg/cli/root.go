package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-datasync/pkg/config"
)

// userEnv names the environment variable holding the acting user when
// --user is not given.
const userEnv = "DATASYNC_USER_ID"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	userID     string
	output     string
	version    string
}

// NewRootCommand builds the ekaya-datasync command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	root := &cobra.Command{
		Use:   "ekaya-datasync",
		Short: "Mirror external sources into workspace tables",
		Long: `ekaya-datasync keeps tables in sync with external sources such as
iCal feeds, GitHub issues, Jira issues, other tables and SQL databases.

Each synced table is backed by a data sync holding the source parameters
(encrypted at rest) and the mapping from source properties to table fields.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.userID, "user", "", "Acting user id (defaults to $"+userEnv+")")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatYAML, "Output format: yaml or json")

	root.AddGroup(
		&cobra.Group{ID: "datasync", Title: "Data sync commands:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	root.AddCommand(
		newServeCommand(opts),
		newTypesCommand(opts),
		newPropertiesCommand(opts),
		newCreateCommand(opts),
		newSyncCommand(opts),
		newSetPropertiesCommand(opts),
		newShowCommand(opts),
		newListCommand(opts),
		newDeleteCommand(opts),
		newWorkspaceCommand(opts),
	)

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// acting returns the user the command acts for.
func (o *options) acting() (uuid.UUID, error) {
	raw := o.userID
	if raw == "" {
		raw = os.Getenv(userEnv)
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("no acting user: pass --user or set %s", userEnv)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return id, nil
}

// withApp wires the application for the duration of one command.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, o.configPath, o.version)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, raw, err)
	}
	return id, nil
}
