package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgivc/copytodownload/internal/app"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP binding until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.New(cfgFileName)
		a.Start()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)

		<-c
		fmt.Println("Received termination signal. Shutting down...")

		a.Stop()
		fmt.Println("done")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
