package commands

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"e2ee-messaging/internal/dto"
)

func establishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "establish [conversation] [local-device] [remote-device]",
		Short: "Start a pairwise session with another device",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res dto.SessionResponse
			req := dto.EstablishSessionRequest{ConversationID: args[0], LocalDeviceID: args[1], RemoteDeviceID: args[2]}
			if err := api.call(http.MethodPost, "/v1/sessions", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [conversation] [device] [message]",
		Short: "Encrypt a message and print the envelope as base64",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res dto.EncryptResponse
			if err := api.call(http.MethodPost, sessionPath(args[0], args[1], "encrypt"), dto.EncryptRequest{Plaintext: []byte(args[2])}, &res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(res.Envelope))
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt [conversation] [device] [envelope-base64]",
		Short: "Decrypt an envelope produced by encrypt",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := base64.StdEncoding.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("envelope: %w", err)
			}
			var res dto.DecryptResponse
			if err := api.call(http.MethodPost, sessionPath(args[0], args[1], "decrypt"), dto.DecryptRequest{Envelope: env}, &res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res.Plaintext))
			return nil
		},
	}
}

func sessionPath(conversation, device, op string) string {
	return "/v1/sessions/" + url.PathEscape(conversation) + "/" + url.PathEscape(device) + "/" + op
}
