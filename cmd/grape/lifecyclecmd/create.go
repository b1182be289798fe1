// Package lifecyclecmd implements the create, delete and status commands.
package lifecyclecmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/ui"
	"grape/internal/environment"
	"grape/internal/lifecycle"
)

func CreateCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the dashboard server and database containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := flags.Descriptor()
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer env.Close()

			results, err := env.Service.Create(cmd.Context(), d, flags.MaxWait())
			printResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}
			printAccess(cmd.OutOrStdout(), d)
			return nil
		},
	}
	flags.Bind(cmd, true, false)
	return cmd
}

func printResults(w io.Writer, results []lifecycle.ServiceResult) {
	for _, r := range results {
		switch r.Action {
		case lifecycle.ActionExists, lifecycle.ActionAbsent:
			fmt.Fprintln(w, ui.WarnMsg("%s %s", ui.Bold(r.Name), r.Action))
		default:
			line := ui.SuccessMsg("%s %s", ui.Bold(r.Name), r.Action)
			if r.ReadyAfter > 0 {
				line += ui.Muted(" ready after " + r.ReadyAfter.Round(100*time.Millisecond).String())
			}
			fmt.Fprintln(w, line)
		}
	}
}

// printAccess shows where the operator reaches both services.
func printAccess(w io.Writer, d environment.Descriptor) {
	fmt.Fprint(w, ui.KeyValues("  ",
		ui.KV("dashboards", ui.Accent(d.GrafanaURL())),
		ui.KV("login", d.Grafana.Username+" / "+d.Grafana.Password),
		ui.KV("database", fmt.Sprintf("%s:%d user %s", d.Database.Host, d.Database.ExternalPort, d.Database.Username)),
		ui.KV("data", d.DataDir),
	))
}
