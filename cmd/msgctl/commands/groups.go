package commands

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"e2ee-messaging/internal/dto"
)

func createGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-group [group] [member-device...]",
		Short: "Create a group and grant its first key to the members",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res dto.GroupResponse
			if err := api.call(http.MethodPost, "/v1/groups", dto.CreateGroupRequest{GroupID: args[0], Members: args[1:]}, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func rotateGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-group [group] [member-device...]",
		Short: "Rotate a group key; only the listed members receive the new version",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res dto.GroupResponse
			path := "/v1/groups/" + url.PathEscape(args[0]) + "/rotate"
			if err := api.call(http.MethodPost, path, dto.GroupMembersRequest{Members: args[1:]}, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
