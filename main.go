package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/service/app"
	"PPresence/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "presenced",
		Short:         "Real-time presence and event delivery node",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	root.AddCommand(serveCmd(), tokenCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway, delivery API and reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.Log.Level, cfg.Log.JSON); err != nil {
				return err
			}
			defer logger.Sync()
			gin.SetMode(gin.ReleaseMode)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger.Log)
			if err != nil {
				logger.Error("build failed", zap.Error(err))
				return err
			}
			logger.Info("presence node starting",
				zap.String("addr", cfg.HTTP.Addr), zap.Int64("node_id", cfg.NodeID),
				zap.String("store", cfg.Notification.Store), zap.Strings("nats", cfg.NATS.Servers))
			return a.Run(ctx)
		},
	}
}

// tokenCmd issues a development token signed with the configured secret.
func tokenCmd() *cobra.Command {
	var (
		sub    string
		ttl    time.Duration
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts := cfg.SecurityOptions()
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := security.Generate(opts, sub, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "user id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.ttl)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to embed")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
