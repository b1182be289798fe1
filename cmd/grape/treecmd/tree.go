// Package treecmd implements the tree command.
package treecmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/ui"
	"grape/internal/grafana"
	"grape/internal/lifecycle"
)

func Cmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the datasources, folders and dashboards of a dashboard server",
		Long: "Tree reads the project's own dashboard server, or the external server\n" +
			"described by -x, and prints its content as a tree.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := resolveTarget(flags)
			if err != nil {
				return err
			}
			log := g.Log
			state, err := grafana.NewMigrator(grafana.NewClient(target, nil, log), log).Collect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), Render(target.URL, state))
			return nil
		},
	}
	flags.Bind(cmd, false, true)
	return cmd
}

func resolveTarget(flags cmdutil.ProjectFlags) (grafana.Target, error) {
	if flags.External != "" {
		access, err := flags.ExternalAccess()
		if err != nil {
			return grafana.Target{}, err
		}
		return access.Target(), nil
	}
	d, err := flags.Descriptor()
	if err != nil {
		return grafana.Target{}, err
	}
	return lifecycle.GrafanaTarget(d), nil
}

// Render draws state as a tree rooted at url. Dashboards of the root
// folder appear under "General".
func Render(url string, state grafana.State) string {
	datasources := tree.Root(ui.Bold("Datasources"))
	for _, ds := range state.Datasources {
		datasources.Child(ds.Name + ui.Muted(" ("+ds.Type+") "+ds.URL))
	}

	byFolder := make(map[int64][]string)
	for _, d := range state.Dashboards {
		h, err := d.Header()
		if err != nil {
			byFolder[d.FolderID] = append(byFolder[d.FolderID], ui.Warn("unreadable dashboard"))
			continue
		}
		byFolder[d.FolderID] = append(byFolder[d.FolderID], h.Title+ui.Muted(" "+panels(len(h.Panels))))
	}

	folders := tree.Root(ui.Bold("Folders"))
	folders.Child(folderNode("General", byFolder[grafana.RootFolderID]))
	for _, f := range state.Folders {
		folders.Child(folderNode(f.Title, byFolder[f.ID]))
	}

	return ui.Tree(url).Child(datasources, folders).String()
}

func folderNode(title string, dashboards []string) *tree.Tree {
	node := tree.Root(ui.Accent(title))
	for _, d := range dashboards {
		node.Child(d)
	}
	return node
}

func panels(n int) string {
	if n == 1 {
		return "(1 panel)"
	}
	return "(" + strconv.Itoa(n) + " panels)"
}
