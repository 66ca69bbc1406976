package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"e2ee-messaging/internal/auth"
	"e2ee-messaging/internal/jwtsigner"
)

func tokenCmd() *cobra.Command {
	var (
		subject    string
		deviceID   string
		ttl        time.Duration
		signingKey string
		hsSecret   string
		keyID      string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hsSecret != "" {
				tok, err := auth.SignHS256(hsSecret, issuer, subject, deviceID, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			}

			signer, err := jwtsigner.NewFromBase64(signingKey, keyID, issuer)
			if err != nil {
				return err
			}
			tok, err := signer.Sign(subject, deviceID, ttl)
			if err != nil {
				return err
			}
			if signingKey == "" {
				// A fresh key was generated; the server needs its public half.
				fmt.Fprintf(cmd.ErrOrStderr(), "AUTH_ED25519_PUBLIC_KEY=%s\n", signer.PublicKeyBase64())
				fmt.Fprintf(cmd.ErrOrStderr(), "MSGCTL_SIGNING_KEY=%s\n", signer.PrivateKeyBase64())
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the user UUID")
	cmd.Flags().StringVar(&deviceID, "device", "", "bind the token to a device UUID")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&signingKey, "signing-key", os.Getenv("MSGCTL_SIGNING_KEY"), "base64 Ed25519 private key (generated if empty)")
	cmd.Flags().StringVar(&hsSecret, "hs256-secret", os.Getenv("AUTH_HS256_SECRET"), "sign with a shared HS256 secret instead")
	cmd.Flags().StringVar(&keyID, "kid", "msgctl", "key id header")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
