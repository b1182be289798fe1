// Package migratecmd implements the save, load, import and export commands.
package migratecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/ui"
)

func SaveCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save dashboards and the database of a project to an archive",
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

			path, err := env.Service.Save(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("saved %s to %s", ui.Bold(d.Base), path))
			return nil
		},
	}
	flags.Bind(cmd, false, false)
	return cmd
}

func LoadCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Recreate a project and restore an archive into it",
		Long: "Load deletes the project's containers and data, creates them again and\n" +
			"uploads the archived datasources, folders and dashboards before restoring\n" +
			"the database. Rerun it after a failure.",
		Args: cobra.NoArgs,
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

			if err := env.Service.Load(cmd.Context(), d, flags.MaxWait()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("loaded %s into %s", d.Archive, ui.Bold(d.Base)))
			fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("dashboards at %s", ui.Accent(d.GrafanaURL())))
			return nil
		},
	}
	flags.Bind(cmd, true, false)
	return cmd
}

func ImportCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Archive the dashboards of an external server with the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := flags.Descriptor()
			if err != nil {
				return err
			}
			access, err := flags.ExternalAccess()
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer env.Close()

			path, err := env.Service.Import(cmd.Context(), d, access)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("imported %s to %s", access.URL, path))
			return nil
		},
	}
	flags.Bind(cmd, false, true)
	return cmd
}

func ExportCmd(g *cmdutil.Globals) *cobra.Command {
	var flags cmdutil.ProjectFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload the dashboards of an archive to an external server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := flags.Descriptor()
			if err != nil {
				return err
			}
			access, err := flags.ExternalAccess()
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Service.Export(cmd.Context(), d, access); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("exported %s to %s", d.Archive, access.URL))
			return nil
		},
	}
	flags.Bind(cmd, false, true)
	return cmd
}
