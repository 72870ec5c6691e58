package cli

import (
	"fmt"

	"github.com/orchestra-mcp/collab/src/auth"
	"github.com/orchestra-mcp/collab/src/bridge"
	"github.com/spf13/cobra"
)

func newUserAddCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "useradd <username> <password>",
		Short: "Create an account in the Redis user directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnv(envFile)
			cfg := bridge.RedisConfigFromEnv()
			client := cfg.NewClient()
			defer client.Close()

			dir := auth.NewRedisDirectory(client, cfg.Prefix, auth.DefaultCost)
			u, err := dir.Register(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("created user %s (%s)", BoldStyle.Render(u.Username), u.ID))
			if n, err := dir.Count(cmd.Context()); err == nil {
				printInfo(cmd.OutOrStdout(), fmt.Sprintf("%d account(s) in the directory", n))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	return cmd
}
