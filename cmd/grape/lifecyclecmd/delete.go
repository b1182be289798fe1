package lifecyclecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/ui"
)

func DeleteCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Stop the containers and remove the project's data directory",
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

			results, err := env.Service.Delete(cmd.Context(), d)
			printResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("removed %s", d.DataDir))
			return nil
		},
	}
	flags.Bind(cmd, false, false)
	return cmd
}
