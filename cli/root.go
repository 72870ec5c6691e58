package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCommand builds the collab command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "collab",
		Short: "Room relay for chat, whiteboard, signaling and chunked file transfer",
		Long: `collab runs a WebSocket relay that groups authenticated peers into rooms
and forwards their messages, and offers client commands to send and
receive files through a running relay.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newServeCommand(),
		newUserAddCommand(),
		newSendCommand(),
		newReceiveCommand(),
		newChatCommand(),
		newRoomsCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}
