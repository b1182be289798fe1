package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/lifecyclecmd"
	"grape/cmd/grape/migratecmd"
	"grape/cmd/grape/treecmd"
	"grape/cmd/grape/ui"
	"grape/internal/support/buildinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &cmdutil.Globals{}
	root := &cobra.Command{
		Use:           "grape",
		Short:         "Grafana and Postgres environments in docker",
		Long:          "grape creates and deletes Grafana/Postgres container pairs and moves\ntheir dashboards and data between archives and servers.",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.Setup()
		},
	}
	g.Bind(root)

	root.AddCommand(lifecyclecmd.CreateCmd(g))
	root.AddCommand(lifecyclecmd.DeleteCmd(g))
	root.AddCommand(lifecyclecmd.StatusCmd(g))
	root.AddCommand(migratecmd.SaveCmd(g))
	root.AddCommand(migratecmd.LoadCmd(g))
	root.AddCommand(migratecmd.ImportCmd(g))
	root.AddCommand(migratecmd.ExportCmd(g))
	root.AddCommand(treecmd.Cmd(g))
	return root
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, ui.ErrorMsg("error: %v", err))
}
