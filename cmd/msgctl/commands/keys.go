package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/dto"
)

func registerCmd() *cobra.Command {
	var req dto.RegisterDeviceRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new device and publish its prekeys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.OneTimePreKeys < 0 {
				return fmt.Errorf("count must be non-negative")
			}
			var res dto.RegisterDeviceResponse
			if err := api.call(http.MethodPost, "/v1/devices", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user UUID (taken from the token subject if empty)")
	cmd.Flags().StringVar(&req.DeviceID, "device", "", "device UUID (generated if empty)")
	cmd.Flags().IntVar(&req.OneTimePreKeys, "count", 0, "one-time prekeys to publish (server default if 0)")
	return cmd
}

func bundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle [device-id]",
		Short: "Fetch and verify a device's prekey bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res dto.PreKeyBundleResponse
			if err := api.call(http.MethodGet, "/v1/devices/"+args[0]+"/bundle", nil, &res); err != nil {
				return err
			}
			bundle, err := res.ToCrypto()
			if err != nil {
				return err
			}
			if err := cryptocore.VerifyBundle(bundle); err != nil {
				return fmt.Errorf("bundle of %s does not verify: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Bundle      dto.PreKeyBundleResponse `json:"bundle"`
				Fingerprint string                   `json:"fingerprint"`
			}{res, cryptocore.Fingerprint(bundle.IdentityKey, bundle.IdentitySigningKey)})
		},
	}
}
