package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// newWorkspaceCommand groups the bootstrap commands that set up workspaces,
// members and databases. They act as the operator and skip role checks.
func newWorkspaceCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		GroupID: "admin",
		Short:   "Create workspaces, add members and databases",
	}
	cmd.AddCommand(
		newWorkspaceCreateCommand(opts),
		newWorkspaceAddUserCommand(opts),
		newWorkspaceAddDatabaseCommand(opts),
	)
	return cmd
}

func newWorkspaceCreateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				ws := &models.Workspace{Name: args[0]}
				if err := app.Workspaces.Create(ctx, ws); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, ws)
			})
		},
	}
}

func newWorkspaceAddUserCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-user WORKSPACE_ID USER_ID ROLE",
		Short: "Add a member or change their role",
		Long:  "Add a member or change their role. ROLE is one of: " + strings.Join(models.ValidRoles, ", ") + ".",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := parseID("workspace", args[0])
			if err != nil {
				return err
			}
			userID, err := parseID("user", args[1])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Workspaces.AddUser(ctx, workspaceID, userID, args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s is %s of workspace %s\n", userID, args[2], workspaceID)
				return nil
			})
		},
	}
}

func newWorkspaceAddDatabaseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-database WORKSPACE_ID NAME",
		Short: "Create a database in a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := parseID("workspace", args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				db := &models.Database{WorkspaceID: workspaceID, Name: args[1]}
				if err := app.Workspaces.CreateDatabase(ctx, db); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, db)
			})
		},
	}
}
