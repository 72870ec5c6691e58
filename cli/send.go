package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/orchestra-mcp/collab/src/peer"
	"github.com/spf13/cobra"
)

func newSendCommand() *cobra.Command {
	var (
		flags   connectFlags
		wait    time.Duration
		msgType string
	)
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to everyone else in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			client, err := flags.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if wait > 0 {
				if err := waitForPeer(cmd.Context(), client, wait); err != nil {
					return err
				}
			}

			start := time.Now()
			meta, err := client.SendFile(cmd.Context(), filepath.Base(args[0]), msgType, f)
			if err != nil {
				return err
			}
			printSuccess(out, fmt.Sprintf("sent %s (%s) as %s in %s",
				BoldStyle.Render(meta.Name), FormatSize(meta.Size), MutedStyle.Render(meta.ID),
				time.Since(start).Round(time.Millisecond)))
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "wait this long for another peer before sending (0 sends immediately)")
	cmd.Flags().StringVar(&msgType, "type", "", "content type (derived from the extension when empty)")
	return cmd
}

// waitForPeer blocks until the room has at least one other member.
func waitForPeer(ctx context.Context, client *peer.Client, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return errors.New("connection closed while waiting for a peer")
			}
			switch ev.Kind {
			case peer.EventPeers:
				if len(ev.Peers) > 0 {
					return nil
				}
			case peer.EventPeerJoined:
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no peer joined within %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
