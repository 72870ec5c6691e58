package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newChatCommand() *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Post one chat line to a room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Chat(strings.Join(args, " "))
		},
	}
	flags.bind(cmd)
	return cmd
}
