package main

import (
	"context"
	"time"

	"github.com/jgivc/copytodownload/internal/app"
	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/spf13/cobra"
)

var (
	copyReq     entity.CopyRequest
	copyTimeout time.Duration
)

var copyCmd = &cobra.Command{
	Use:   "copy <src>",
	Short: "Copy a file into Downloads and register it",
	Long: `Copy a file into the Downloads directory and register it.

Examples:
  copytodownload copy /tmp/report.pdf
  copytodownload copy /tmp/report.pdf --dest reports --title "Q3 report" --notify`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := copyReq
		req.SourcePath = args[0]

		ctx, cancel := context.WithTimeout(context.Background(), copyTimeout)
		defer cancel()

		return withApp(ctx, func(a *app.App) error {
			res, err := a.Copy(ctx, req)
			if err != nil {
				return err
			}

			return printResult(res)
		})
	},
}

var nativeCmd = &cobra.Command{
	Use:   "native <src> <dst-dir>",
	Short: "Copy a file between two native paths",
	Long: `Copy a file into a directory. Both arguments may be file:// URLs or plain paths.

Examples:
  copytodownload native file:///tmp/a.png file:///tmp/out`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), copyTimeout)
		defer cancel()

		return withApp(ctx, func(a *app.App) error {
			res, err := a.NativeCopy(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			return printResult(res)
		})
	},
}

func init() {
	f := copyCmd.Flags()
	f.StringVar(&copyReq.DestinationDirectory, "dest", ".", "destination directory, relative to the downloads dir")
	f.StringVar(&copyReq.Title, "title", "", "entry title, defaults to the file name")
	f.StringVar(&copyReq.Description, "description", "", "entry description (markdown)")
	f.StringVar(&copyReq.MIMEType, "mime", "", "MIME type, detected when empty")
	f.BoolVar(&copyReq.Scannable, "scannable", false, "let the media scanner index the file")
	f.BoolVar(&copyReq.Notify, "notify", false, "announce the completed download")

	for _, c := range []*cobra.Command{copyCmd, nativeCmd} {
		c.Flags().DurationVar(&copyTimeout, "timeout", 5*time.Minute, "how long to wait for the copy")
		rootCmd.AddCommand(c)
	}
}
