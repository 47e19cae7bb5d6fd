package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	noWatch  bool
	headless bool
)

var rootCmd = &cobra.Command{
	Use:   "harmony [files or directories...]",
	Short: "Harmony is a local music player.",
	Long: `Harmony keeps a playlist of local audio files in a catalog database and
plays them through the system audio output. Files and directories given on the
command line are added to the catalog at start.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, args)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch library directories for removed files")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "ignore the keyboard even when stdin is a terminal")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
