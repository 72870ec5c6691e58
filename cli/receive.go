package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchestra-mcp/collab/src/peer"
	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/spf13/cobra"
)

func newReceiveCommand() *cobra.Command {
	var (
		flags connectFlags
		dir   string
		once  bool
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Join a room, print its activity and save incoming files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			client, err := flags.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			printInfo(out, fmt.Sprintf("joined room %s", TitleStyle.Render(flags.room)))
			for {
				select {
				case ev, ok := <-client.Events():
					if !ok {
						if err := client.Err(); err != nil {
							return err
						}
						return nil
					}
					saved, err := printEvent(out, dir, ev)
					if err != nil {
						printError(out, err.Error())
					}
					if saved && once {
						return nil
					}
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&dir, "out", "o", ".", "directory for received files")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first completed file")
	return cmd
}

// printEvent renders one event and saves completed files. It reports whether
// a file was written.
func printEvent(out io.Writer, dir string, ev peer.Event) (bool, error) {
	switch ev.Kind {
	case peer.EventPeers:
		printInfo(out, fmt.Sprintf("%d peer(s) already here", len(ev.Peers)))
	case peer.EventPeerJoined:
		printInfo(out, fmt.Sprintf("%s joined", BoldStyle.Render(ev.Peer.Username)))
	case peer.EventPeerLeft:
		printInfo(out, fmt.Sprintf("%s left", MutedStyle.Render(ev.Peer.ID)))
	case peer.EventChat:
		ts := time.UnixMilli(ev.Chat.TS).Format("15:04:05")
		fmt.Fprintf(out, "%s %s: %s\n", MutedStyle.Render(ts), BoldStyle.Render(ev.Chat.From), ev.Chat.Msg)
	case peer.EventClear:
		printInfo(out, "whiteboard cleared")
	case peer.EventTransfer:
		return printTransfer(out, dir, ev.Transfer)
	}
	return false, nil
}

func printTransfer(out io.Writer, dir string, ev transfer.Event) (bool, error) {
	switch ev.Kind {
	case transfer.EventStarted:
		printInfo(out, fmt.Sprintf("receiving %s (%s) from %s", BoldStyle.Render(ev.Name), FormatSize(ev.Size), ev.From))
	case transfer.EventProgress:
		fmt.Fprintf(out, "\r%s %3d%% %s", progressBar(ev.Progress, 30), ev.Progress, MutedStyle.Render(ev.Name))
	case transfer.EventFailed:
		fmt.Fprintln(out)
		return false, fmt.Errorf("transfer %s failed: %w", ev.Name, ev.Err)
	case transfer.EventCompleted:
		fmt.Fprintf(out, "\r%s %3d%% %s\n", progressBar(100, 30), 100, MutedStyle.Render(ev.Name))
		path, err := saveFile(dir, ev.File)
		if err != nil {
			return false, err
		}
		printSuccess(out, fmt.Sprintf("saved %s (%s)", path, FormatSize(int64(len(ev.File.Data)))))
		return true, nil
	}
	return false, nil
}

// saveFile writes f under dir without overwriting existing files. The sender
// chooses the name, so it is reduced to a plain file name inside dir.
func saveFile(dir string, f *transfer.File) (string, error) {
	name := safeName(f.Name)
	if name == "" {
		name = safeName(f.ID)
	}
	if name == "" {
		name = "download"
	}
	path := uniqueFilename(filepath.Join(dir, name))
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("refusing to save %q outside %s", f.Name, dir)
	}
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

// safeName keeps the last path element and drops names made only of dots.
func safeName(name string) string {
	name = transfer.SanitizeName(filepath.Base(name))
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// uniqueFilename appends (1), (2), ... until the name is free.
func uniqueFilename(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
