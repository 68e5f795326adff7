package main

import (
	"context"
	"fmt"

	"github.com/jgivc/copytodownload/internal/app"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that registered files still exist unchanged",
	Long: `Check every registry entry against its file. Entries whose file is missing,
is not a regular file or has a different size are printed.

Useful with a persistent registry driver (sqlite or redis).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		return withApp(ctx, func(a *app.App) error {
			findings, err := a.Audit(ctx)
			if err != nil {
				return err
			}

			if err := printJSON(findings); err != nil {
				return err
			}

			if len(findings) > 0 {
				return fmt.Errorf("%d entries do not match their files", len(findings))
			}

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
