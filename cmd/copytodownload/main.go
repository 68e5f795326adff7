package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jgivc/copytodownload/internal/app"
	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/spf13/cobra"
)

var (
	cfgFileName string
)

var rootCmd = &cobra.Command{
	Use:   "copytodownload",
	Short: "Copy local files into Downloads and register them",
	Long: `copytodownload copies files into a managed Downloads directory and records
each copy in the download registry.

Run "serve" to expose the HTTP binding, or use the one-shot commands.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFileName, "config", "c", "config.yml", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp runs fn against an initialized app and stops it afterwards.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a := app.New(cfgFileName)
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	return fn(a)
}

func printResult(res entity.CopyResult) error {
	if s, ok := res.Success(); ok {
		return printJSON(s)
	}

	f, _ := res.Failure()
	if err := printJSON(f); err != nil {
		return err
	}

	return fmt.Errorf("copy failed: %s", f.Kind)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
