// Package client assembles one chat session: transport, dispatcher, unread
// ledger, message buffer and room directory, wired together once.
package client

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatsync/client/internal/api"
	"github.com/chatsync/client/internal/buffer"
	"github.com/chatsync/client/internal/config"
	"github.com/chatsync/client/internal/directory"
	"github.com/chatsync/client/internal/dispatch"
	"github.com/chatsync/client/internal/ledger"
	"github.com/chatsync/client/internal/logger"
	"github.com/chatsync/client/internal/metrics"
	"github.com/chatsync/client/internal/transport"
)

// Deps are the collaborators a session can be given. Zero values select the
// production implementation.
type Deps struct {
	// API defaults to an HTTP client on cfg.APIURL.
	API api.API

	// Tokens supplies the credential for both the websocket and the API.
	Tokens transport.TokenSource

	Dialer transport.Dialer
	Clock  transport.Clock

	// Registerer enables metrics when non-nil.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// Client is a chat session. Its components are exported for read access;
// mutate them only through their own operations.
type Client struct {
	Transport  *transport.Transport
	Dispatcher *dispatch.Dispatcher
	Buffer     *buffer.Buffer
	Ledger     *ledger.Ledger
	Directory  *directory.Directory
	Metrics    *metrics.Collectors

	log          *slog.Logger
	unsubscribes []func()
}

// New builds a session from cfg. cfg should already have defaults applied.
// The ledger handler is subscribed before the directory handler, so unread
// counts are updated before the buffer for every live message.
func New(cfg *config.Config, deps Deps) *Client {
	log := logger.OrDiscard(deps.Logger)
	c := &Client{log: logger.Component(log, "client")}

	var (
		dispatchRecorder  dispatch.Recorder
		transportRecorder transport.Recorder
	)
	if deps.Registerer != nil {
		c.Metrics = metrics.New(deps.Registerer)
		dispatchRecorder = c.Metrics
		transportRecorder = c.Metrics
	}

	apiClient := deps.API
	if apiClient == nil {
		apiClient = api.NewHTTPClient(cfg.APIURL, deps.Tokens, nil, cfg.RequestTimeout(), log)
	}

	c.Ledger = ledger.New()
	c.Buffer = buffer.New(buffer.Options{
		Capacity:   cfg.BufferCapacity,
		Retain:     cfg.BufferRetain,
		DedupeByID: cfg.DedupeMessages,
	})
	c.Directory = directory.New(directory.Options{
		API:              apiClient,
		Ledger:           c.Ledger,
		Buffer:           c.Buffer,
		PageSize:         cfg.PageSize,
		MaxMessageLength: cfg.MessageMaxLength,
		Logger:           log,
	})
	c.Dispatcher = dispatch.New(log, dispatchRecorder)
	c.Transport = transport.New(transport.Options{
		URL:         cfg.WSURL,
		Dialer:      deps.Dialer,
		Tokens:      deps.Tokens,
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Delay:       cfg.ReconnectDelay(),
		Heartbeat:   cfg.HeartbeatInterval(),
		RatePerSec:  cfg.SendRatePerSec,
		Burst:       cfg.SendBurst,
		OnFrame:     c.Dispatcher.Dispatch,
		Clock:       deps.Clock,
		Logger:      log,
		Recorder:    transportRecorder,
	})

	if c.Metrics != nil {
		c.Metrics.RegisterUnread(c.Ledger.Total)
	}

	c.unsubscribes = append(c.unsubscribes,
		c.Dispatcher.Subscribe(c.Ledger.HandleEvent),
		c.Dispatcher.Subscribe(c.Directory.HandleEvent),
	)
	return c
}

// Subscribe registers an additional handler that runs after the ledger and
// directory have applied each event.
func (c *Client) Subscribe(h dispatch.Handler) (unsubscribe func()) {
	return c.Dispatcher.Subscribe(h)
}

// Start connects the transport and loads the room directory.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Transport.Connect(ctx); err != nil {
		return err
	}
	if err := c.Directory.Refresh(ctx); err != nil {
		return err
	}
	c.log.Info("session started", "rooms", len(c.Directory.Rooms()), "unread", c.Ledger.Total())
	return nil
}

// Close disconnects and removes the built-in handlers.
func (c *Client) Close() {
	c.Transport.Disconnect()
	for _, unsubscribe := range c.unsubscribes {
		unsubscribe()
	}
	c.unsubscribes = nil
}
