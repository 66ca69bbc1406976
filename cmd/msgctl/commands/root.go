package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	token   string
	issuer  string
	api     *client
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "msgctl",
		Short: "Command line client for the messenger API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			api = newClient(baseURL, token, 10*time.Second)
			return nil
		},
	}

	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", getenv("MSGCTL_BASE_URL", "http://localhost:8086"), "messenger base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MSGCTL_TOKEN"), "bearer token for /v1")
	root.PersistentFlags().StringVar(&issuer, "issuer", getenv("ISSUER", "http://localhost:8081"), "token issuer")

	root.AddCommand(
		tokenCmd(),
		registerCmd(),
		bundleCmd(),
		establishCmd(),
		encryptCmd(),
		decryptCmd(),
		createGroupCmd(),
		rotateGroupCmd(),
	)
	return root
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
