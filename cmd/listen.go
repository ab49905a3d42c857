package main

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chatsync/client/internal/chat"
	"github.com/chatsync/client/internal/client"
	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/metrics"
	"github.com/chatsync/client/internal/transport"
)

func newListenCmd(opts *rootOptions) *cobra.Command {
	var roomID int64

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print live messages and unread totals",
		Long: `listen connects to the websocket, loads the room directory and prints every
live message together with the total unread count until interrupted. With
--room the given room is focused, so its messages do not count as unread.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			s, err := opts.openSession(client.Deps{Registerer: reg})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			c := s.client

			// Lines come from the read goroutine and from state listeners.
			var mu sync.Mutex
			printf := func(format string, a ...any) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(opts.stdout, format, a...)
			}

			closed := make(chan struct{})
			var closeOnce sync.Once
			c.Transport.OnStateChange(func(st transport.State) {
				printf("* connection %s\n", st)
				if st == transport.StateClosed {
					closeOnce.Do(func() { close(closed) })
				}
			})
			c.Subscribe(func(ev chat.Event) error {
				if ev.Kind != chat.EventChatMessage {
					return nil
				}
				printf("%s  (unread: %d)\n", formatMessage(*ev.Message), c.Ledger.Total())
				return nil
			})

			if s.cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, s.cfg.MetricsAddr, reg, s.log); err != nil {
						s.log.Error("metrics endpoint failed", "error", err)
					}
				}()
			}

			if err := c.Start(ctx); err != nil {
				return err
			}
			if roomID > 0 {
				if err := focusRoom(ctx, c, roomID); err != nil {
					return err
				}
				printf("* focused room %d (%d messages loaded)\n", roomID, c.Buffer.Len())
			}
			printf("* %d rooms, %d unread\n", len(c.Directory.Rooms()), c.Ledger.Total())

			select {
			case <-ctx.Done():
				return nil
			case <-closed:
				return apperrors.New(apperrors.CodeTransportDialFailed,
					fmt.Sprintf("gave up after %d reconnect attempts", s.cfg.ReconnectMaxAttempts))
			}
		},
	}
	cmd.Flags().Int64Var(&roomID, "room", 0, "Room id to focus")
	return cmd
}
