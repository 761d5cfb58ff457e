package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/app"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/config"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/database"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "vclassroom",
		Short:         "Real-time presence and signaling server for virtual classrooms",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"JSON config file (defaults to $VCLASSROOM_CONFIG_FILE)")

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts))
	return root
}

// loadConfig layers the config file over VCLASSROOM_* env over defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	return config.LoadConfigWithPrecedence(path)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				if err := applyAddr(cfg, addr); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port, overrides config")
	return cmd
}

// applyAddr overrides the configured listener with host:port. An empty host keeps the configured one.
func applyAddr(cfg *config.Config, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid --addr port %q", port)
	}
	if host != "" {
		cfg.HTTP.Host = host
	}
	cfg.HTTP.Port = p
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.New(cfg.Env, cfg.Log.Level)

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"vclassroom": func(ctx context.Context) error {
			logger.Info("graceful shutdown initiated")
			return application.Stop(ctx)
		},
	})

	failed := make(chan error, 1)
	go func() { failed <- application.Wait() }()

	select {
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		return nil
	case err := <-failed:
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return migrate(cfg, cmd.OutOrStdout())
		},
	}
}

func migrate(cfg *config.Config, out io.Writer) error {
	logger := logging.NewWithWriter(io.Discard, cfg.Env, cfg.Log.Level)
	store, err := database.NewManager(app.StoreConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	applied, err := store.Migrate()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintf(out, "%s is up to date\n", cfg.Database.Path)
		return nil
	}
	fmt.Fprintf(out, "applied %s to %s\n", strings.Join(applied, ", "), cfg.Database.Path)
	return nil
}
