package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceauth",
	Short: "Facial verification service and gallery tooling",
	Long: `faceauth verifies that a submitted photo shows the enrolled face of a user.
It screens every image for presentation attacks, keeps a per-user gallery of
enrollment images and refuses to enroll a face that another user already owns.

Run "faceauth serve" for the HTTP API or use the subcommands to operate on the
gallery directly.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
