package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the registry from the tile cache",
		Long: `Walk the cache root and replace the registry counts with what is on disk.
Collections that are no longer on disk are dropped from the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, a.Logger)

			rep, err := a.Reconcile(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "collections=%d layers=%d documents=%d dropped=%d\n",
				rep.Collections, rep.Layers, rep.Documents, rep.Dropped)
			return nil
		},
	}
}
