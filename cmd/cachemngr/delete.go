package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

func newDeleteCmd(opts *options) *cobra.Command {
	var (
		layer string
		docs  bool
	)
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete cached content of projects",
		Long: `Delete cached content of every project matching NAME.

Without flags the whole project is removed. --layer removes the tiles of one
layer and --docs removes the cached documents only.

Examples:
  cachemngr delete france_parts
  cachemngr delete 'france_*' --layer roads
  cachemngr delete /srv/projects/france_parts.qgs --docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if layer != "" && docs {
				return errors.New("--layer and --docs are mutually exclusive")
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, a.Logger)

			sel, err := selectProjects(ctx, a, args[0])
			if err != nil {
				return err
			}
			if len(sel) == 0 {
				noProjects(cmd.ErrOrStderr(), args[0])
				return nil
			}

			var failed []error
			for _, s := range sel {
				var (
					res model.CascadeResult
					err error
				)
				switch {
				case layer != "":
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Removing layer %s of %s\n", layer, s.Project)
					res, err = a.Engine.RemoveLayerTiles(ctx, s.ID, layer)
				case docs:
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Removing documents of %s\n", s.Project)
					res, err = a.Engine.RemoveAllDocuments(ctx, s.ID)
				default:
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Removing %s\n", s.Project)
					res, err = a.Engine.RemoveProject(ctx, s.ID)
				}
				if err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", s.Project, err)
					failed = append(failed, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tlayers=%d documents_cleared=%t collection_removed=%t\n",
					s.ID, s.Project, len(res.Removed), res.DocumentsCleared, res.CollectionRemoved)
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().StringVarP(&layer, "layer", "l", "", "tile layer name")
	cmd.Flags().BoolVar(&docs, "docs", false, "remove cached documents only")
	return cmd
}
