package cli

import (
	"errors"
	"net"
	"os"

	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/providers"
	"github.com/orchestra-mcp/collab/src/bridge"
	"github.com/orchestra-mcp/collab/src/logging"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		envFile string
		addr    string
		noRedis bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadEnv(envFile)
			cfg := config.FromEnv()
			if addr != "" {
				cfg.Addr = addr
			}
			logger := logging.FromEnv()

			var redisCfg *bridge.RedisConfig
			if !noRedis && (os.Getenv("REDIS_ADDR") != "" || cfg.UserStore == "redis") {
				redisCfg = bridge.RedisConfigFromEnv()
			}

			srv := providers.NewRelayServer(cfg, redisCfg, logger)
			if err := srv.Activate(cmd.Context()); err != nil {
				return err
			}
			defer srv.Deactivate()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
				logger.Info().Msg("shutting down")
				if err := srv.Deactivate(); err != nil {
					return err
				}
				if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RELAY_ADDR)")
	cmd.Flags().BoolVar(&noRedis, "standalone", false, "never connect to Redis")
	return cmd
}

// loadEnv loads a dotenv file if present. Existing variables win.
func loadEnv(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		printWarning(os.Stderr, "could not load "+path+": "+err.Error())
	}
}
