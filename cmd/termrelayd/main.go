package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avshare/termrelay/internal/config"
	"github.com/avshare/termrelay/internal/db"
	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/registry"
	"github.com/avshare/termrelay/internal/room"
	"github.com/avshare/termrelay/internal/server"
	"github.com/avshare/termrelay/internal/session"
	"github.com/avshare/termrelay/internal/store"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "termrelayd",
		Short: "Terminal-sharing relay",
		Long:  "termrelayd relays producer-owned terminals to many browser viewers, with an optional collaborative jam room.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("termrelayd version %s\n", version)
		},
	}

	var serveHost string
	var servePort int
	var dataDir string
	var databaseURL string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if serveHost != "" {
				cfg.Server.Host = serveHost
			}
			if servePort != 0 {
				cfg.Server.Port = servePort
			}
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}
			if databaseURL != "" {
				cfg.Server.DatabaseURL = databaseURL
			}

			if err := cfg.EnsureDataDir(); err != nil {
				return fmt.Errorf("failed to create data directories: %w", err)
			}
			if cfg.Server.DatabaseURL == "" {
				return fmt.Errorf("TERMRELAY_DATABASE_URL is required")
			}

			database, err := db.Open(cfg.Server.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			bus, err := events.NewBus(cfg.Server.NatsURL)
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}

			sessionCfg := session.Config{
				DefaultCols:     cfg.Server.DefaultCols,
				DefaultRows:     cfg.Server.DefaultRows,
				ReconnectWindow: time.Duration(cfg.Server.ProducerReconnectMs) * time.Millisecond,
				SpawnTimeout:    10 * time.Second,
			}
			maxAge := time.Duration(cfg.Server.SessionMaxAgeMs) * time.Millisecond
			reg := registry.New(bus, sessionCfg, maxAge, cfg.Server.ClosedRingSize)

			st := store.NewPostgres(database)
			broker, err := room.NewBroker(st, reg, bus)
			if err != nil {
				return fmt.Errorf("failed to create room broker: %w", err)
			}

			var tokens identity.TokenVerifier = &identity.NostrTokenVerifier{}
			sessions := identity.NewSessionStore(database.DB)
			var partAuth identity.ParticipantAuthenticator = &identity.CookieAuthenticator{Sessions: sessions}

			srv := server.New(cfg, bus, reg, broker, tokens, partAuth)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nshutting down...")
				_ = srv.Shutdown(context.Background())
			}()

			fmt.Printf("termrelayd listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to bind (default from config)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default from config)")
	serveCmd.Flags().StringVar(&databaseURL, "database-url", "", "database URL (default from config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
