package main

import (
	"context"

	"github.com/jgivc/copytodownload/internal/app"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <id>",
	Short: "Show a registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		return withApp(ctx, func(a *app.App) error {
			entry, err := a.Lookup(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(entry)
		})
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
