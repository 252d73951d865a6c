package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

func newListCmd(opts *options) *cobra.Command {
	var (
		asJSON bool
		name   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached projects",
		Long: `List cached projects with their layers.

Examples:
  cachemngr list
  cachemngr list --name 'france_*'
  cachemngr list --json | jq '.collections[].project'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, a.Logger)

			sel, err := selectProjects(ctx, a, name)
			if err != nil {
				return err
			}
			if len(sel) == 0 {
				noProjects(cmd.ErrOrStderr(), name)
				return nil
			}

			cols := make([]model.Collection, 0, len(sel))
			for _, s := range sel {
				c, err := a.Registry.Get(ctx, s.ID)
				if err != nil {
					return err
				}
				cols = append(cols, c)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"layout":      a.Layout,
					"collections": cols,
				})
			}
			_, _ = fmt.Fprintln(out, "Cache root:   ", a.Config.CacheRootDir)
			_, _ = fmt.Fprintln(out, "Cache layout: ", a.Layout)
			_, _ = fmt.Fprintln(out, "Cache content:")
			for _, c := range cols {
				ids := make([]string, 0, len(c.Layers))
				for _, l := range c.Layers {
					ids = append(ids, l.ID)
				}
				_, _ = fmt.Fprintln(out, "##")
				_, _ = fmt.Fprintln(out, "hash:  ", c.ID)
				_, _ = fmt.Fprintln(out, "path:  ", c.Project)
				_, _ = fmt.Fprintln(out, "layers:", strings.Join(ids, ","))
				_, _ = fmt.Fprintln(out, "docs:  ", c.Documents)
			}
			_, _ = fmt.Fprintln(out, "###")
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in json format")
	cmd.Flags().StringVar(&name, "name", "*", "project path, globbing allowed")
	return cmd
}
