package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chatsync/client/internal/client"
	"github.com/chatsync/client/internal/config"
	"github.com/chatsync/client/internal/logger"
	"github.com/chatsync/client/internal/storage"
	"github.com/chatsync/client/internal/transport"
)

// rootOptions are the persistent flags shared by every command. Non-empty
// values override the config file and the environment.
type rootOptions struct {
	configPath      string
	envFile         string
	apiURL          string
	wsURL           string
	credentialStore string
	logLevel        string
	logFormat       string
	metricsAddr     string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "chatsync",
		Short: "Realtime chat synchronization client",
		Long: `chatsync keeps a live websocket connection to a chat server, tracks unread
counts per room and keeps a bounded window of the focused room's history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("chatsync {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.chatsync/config.toml)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file with CHATSYNC_* variables")
	pf.StringVar(&opts.apiURL, "api-url", "", "REST API base URL")
	pf.StringVar(&opts.wsURL, "ws-url", "", "Websocket URL")
	pf.StringVar(&opts.credentialStore, "credential-store", "", "Path to the credential database")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (listen only)")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newRoomsCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newReadCmd(opts),
		newListenCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(opts.stdout, "chatsync %s\n", Version)
		},
	}
}

// loadConfig resolves the effective configuration: file, .env, environment,
// then flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	overrides := []struct {
		dst *string
		val string
	}{
		{&cfg.APIURL, o.apiURL},
		{&cfg.WSURL, o.wsURL},
		{&cfg.CredentialStore, o.credentialStore},
		{&cfg.LogLevel, o.logLevel},
		{&cfg.LogFormat, o.logFormat},
		{&cfg.MetricsAddr, o.metricsAddr},
	}
	for _, ov := range overrides {
		if ov.val != "" {
			*ov.dst = ov.val
		}
	}

	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) *slog.Logger {
	return logger.New(cfg.LogLevel, cfg.LogFormat, o.stderr)
}

// openStore opens the credential database, creating its directory.
func openStore(cfg *config.Config, log *slog.Logger) (*storage.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.CredentialStore); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create credential directory: %w", err)
		}
	}
	return storage.NewSQLiteStore(cfg.CredentialStore, log)
}

// session bundles what a command needs to talk to the server.
type session struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.SQLiteStore
	client *client.Client
}

// openSession loads config, reads the stored token once and builds a client.
func (o *rootOptions) openSession(deps client.Deps) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log := o.logger(cfg)

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	token, err := store.Token()
	if err != nil {
		store.Close()
		return nil, err
	}

	deps.Tokens = transport.StaticToken(token)
	deps.Logger = log
	return &session{
		cfg:    cfg,
		log:    log,
		store:  store,
		client: client.New(cfg, deps),
	}, nil
}

func (s *session) Close() {
	s.client.Close()
	s.store.Close()
}
