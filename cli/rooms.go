package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/orchestra-mcp/collab/providers"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

func newRoomsCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms on a relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rooms []providers.RoomSummary
			status, err := doJSON(fasthttp.MethodGet, strings.TrimSuffix(server, "/")+"/api/rooms", nil, &rooms)
			if err != nil {
				return err
			}
			if status != fasthttp.StatusOK {
				return fmt.Errorf("list rooms: status %d", status)
			}
			out := cmd.OutOrStdout()
			if len(rooms) == 0 {
				printInfo(out, "no active rooms")
				return nil
			}
			fmt.Fprintln(out, renderRooms(rooms))
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:3000", "relay base URL")
	return cmd
}

func renderRooms(rooms []providers.RoomSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Peers", "Members"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.Room, len(r.Members), strings.Join(r.Members, "\n")})
	}
	return t.Render()
}
