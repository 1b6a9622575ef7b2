package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-datasync/pkg/config"
)

// paramFlags collects source parameters from --param and --params-file.
type paramFlags struct {
	pairs []string
	file  string
}

func (p *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&p.pairs, "param", nil, "Source parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&p.file, "params-file", "", "YAML file with source parameters; --param values override it")
}

// parse merges the parameters file with the key=value pairs. Values given
// with --param are always strings; use the file for numbers and booleans.
func (p *paramFlags) parse() (map[string]any, error) {
	params := make(map[string]any)
	if p.file != "" {
		raw, err := os.ReadFile(p.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read params file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("failed to parse params file %s: %w", p.file, err)
		}
	}
	for _, pair := range p.pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func newTypesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "types",
		GroupID: "datasync",
		Short:   "List the available data sync types",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Only the type names are read; no source is contacted.
			cfg := &config.Config{Sync: config.SyncConfig{FetchTimeout: 10 * time.Second, PageSize: 50}}
			registry, err := newRegistry(cfg, nil, nil, zap.NewNop())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, registry.Types())
		},
	}
}

func newPropertiesCommand(opts *options) *cobra.Command {
	var params paramFlags
	cmd := &cobra.Command{
		Use:     "properties TYPE",
		GroupID: "datasync",
		Short:   "List the properties a source offers for the given parameters",
		Example: `  ekaya-datasync properties ical_calendar --param ical_url=https://example.com/team.ics`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.acting()
			if err != nil {
				return err
			}
			values, err := params.parse()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				props, err := app.DataSyncs.ListProperties(ctx, userID, args[0], values)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, newCatalogueView(props))
			})
		},
	}
	params.register(cmd)
	return cmd
}

func newCreateCommand(opts *options) *cobra.Command {
	var (
		params     paramFlags
		name       string
		properties []string
		syncNow    bool
	)
	cmd := &cobra.Command{
		Use:     "create DATABASE_ID TYPE",
		GroupID: "datasync",
		Short:   "Create a table synced from an external source",
		Long: `Create a table whose rows mirror an external source.

The identity properties of the source are always added to the table, ahead
of the properties named with --property. Synced fields are read only.`,
		Example: `  ekaya-datasync create 6f1c... github_issues --name Issues \
      --param github_issues_owner=ekaya-inc --param github_issues_repo=engine \
      --param github_issues_api_token=$GITHUB_TOKEN \
      --property title --property state --sync`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.acting()
			if err != nil {
				return err
			}
			databaseID, err := parseID("database", args[0])
			if err != nil {
				return err
			}
			values, err := params.parse()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				ds, err := app.DataSyncs.CreateDataSyncTable(ctx, userID, databaseID, args[1], properties, name, values)
				if err != nil {
					return err
				}
				if syncNow {
					if ds, err = app.DataSyncs.SyncDataSyncTable(ctx, userID, ds.ID); err != nil {
						return err
					}
				}
				return showDataSync(ctx, cmd, opts, app, ds.ID)
			})
		},
	}
	params.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Name of the new table")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "Property to mirror (repeatable)")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "Sync the table right after creating it")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "sync DATA_SYNC_ID",
		GroupID: "datasync",
		Short:   "Reconcile a synced table with its source now",
		Long: `Fetch the source and create, update and delete rows so that the table
matches it. A source failure is recorded on the data sync and shown as
last_error; the table is left unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.acting()
			if err != nil {
				return err
			}
			id, err := parseID("data sync", args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				ds, err := app.DataSyncs.SyncDataSyncTable(ctx, userID, id)
				if err != nil {
					return err
				}
				if err := showDataSync(ctx, cmd, opts, app, ds.ID); err != nil {
					return err
				}
				if ds.LastError != nil {
					return fmt.Errorf("sync failed: %s", *ds.LastError)
				}
				return nil
			})
		},
	}
}

func newSetPropertiesCommand(opts *options) *cobra.Command {
	var properties []string
	cmd := &cobra.Command{
		Use:     "set-properties DATA_SYNC_ID",
		GroupID: "datasync",
		Short:   "Choose which source properties the table mirrors",
		Long: `Add fields for newly listed properties and delete the fields of properties
no longer listed. Identity properties always stay. New fields are filled on
the next sync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.acting()
			if err != nil {
				return err
			}
			id, err := parseID("data sync", args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				if _, err := app.DataSyncs.SetVisibleProperties(ctx, userID, id, properties); err != nil {
					return err
				}
				return showDataSync(ctx, cmd, opts, app, id)
			})
		},
	}
	cmd.Flags().StringSliceVar(&properties, "property", nil, "Property to mirror (repeatable)")
	return cmd
}

func newShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "show DATA_SYNC_ID",
		GroupID: "datasync",
		Short:   "Show a data sync with its property mappings",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("data sync", args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				return showDataSync(ctx, cmd, opts, app, id)
			})
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		GroupID: "datasync",
		Short:   "List every data sync",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				syncs, err := app.DataSyncs.ListDataSyncs(ctx)
				if err != nil {
					return err
				}
				views := make([]dataSyncView, 0, len(syncs))
				for _, ds := range syncs {
					views = append(views, newDataSyncView(ds, nil))
				}
				return render(cmd.OutOrStdout(), opts.output, views)
			})
		},
	}
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete DATA_SYNC_ID",
		GroupID: "datasync",
		Short:   "Delete a synced table together with its data sync",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.acting()
			if err != nil {
				return err
			}
			id, err := parseID("data sync", args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.DataSyncs.DeleteDataSyncTable(ctx, userID, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted data sync %s\n", id)
				return nil
			})
		},
	}
}

func showDataSync(ctx context.Context, cmd *cobra.Command, opts *options, app *App, id uuid.UUID) error {
	ds, err := app.DataSyncs.GetDataSync(ctx, id)
	if err != nil {
		return err
	}
	props, err := app.DataSyncs.GetProperties(ctx, id)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), opts.output, newDataSyncView(ds, props))
}
