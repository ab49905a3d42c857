package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatsync/client/internal/chat"
	"github.com/chatsync/client/internal/client"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "history <room-id>",
		Short: "Print a room's recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.openSession(client.Deps{})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := focusRoom(ctx, s.client, roomID); err != nil {
				return err
			}
			for page := 2; page <= pages; page++ {
				p, err := s.client.Directory.LoadPage(ctx, page)
				if err != nil {
					return err
				}
				if len(p.Messages) == 0 {
					break
				}
			}

			msgs := s.client.Buffer.Messages()
			if len(msgs) == 0 {
				fmt.Fprintln(opts.stdout, "No messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintln(opts.stdout, formatMessage(m))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of history pages to load, newest first")
	return cmd
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var msgType string

	cmd := &cobra.Command{
		Use:   "send <room-id> <text>",
		Short: "Send a message to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.openSession(client.Deps{})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := focusRoom(ctx, s.client, roomID); err != nil {
				return err
			}
			msg, err := s.client.Directory.Send(ctx, args[1], chat.MessageType(msgType))
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Sent message %d\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&msgType, "type", string(chat.MessageTypeText), "Message type: text, image or file")
	return cmd
}

func newReadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <room-id>",
		Short: "Mark a room as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.openSession(client.Deps{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Directory.MarkAsRead(cmd.Context(), roomID); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Marked room %d as read\n", roomID)
			return nil
		},
	}
}
