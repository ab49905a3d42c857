package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatsync/client/internal/chat"
	"github.com/chatsync/client/internal/client"
	apperrors "github.com/chatsync/client/internal/errors"
)

func newRoomsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List, inspect, create, join and leave rooms",
	}
	cmd.AddCommand(
		newRoomsListCmd(opts),
		newRoomsShowCmd(opts),
		newRoomsCreateCmd(opts),
		newRoomsJoinCmd(opts),
		newRoomsLeaveCmd(opts),
	)
	return cmd
}

func newRoomsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the rooms you belong to with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(client.Deps{})
			if err != nil {
				return err
			}
			defer s.Close()

			dir := s.client.Directory
			if err := dir.Refresh(cmd.Context()); err != nil {
				return err
			}
			printRooms(opts.stdout, dir.Rooms(), s.client.Ledger.Count)
			fmt.Fprintf(opts.stdout, "\nTotal unread: %d\n", s.client.Ledger.Total())
			return nil
		},
	}
}

func printRooms(w io.Writer, rooms []chat.Room, unread func(int64) int) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tUNREAD\tLAST MESSAGE")
	for _, r := range rooms {
		last := "-"
		if r.LastMessage != nil {
			last = truncate(r.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Type, unread(r.ID), last)
	}
	tw.Flush()
}

func newRoomsCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		description string
		roomType    string
		members     []int64
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := chat.RoomType(roomType)
			if rt != chat.RoomTypeGroup && rt != chat.RoomTypeSingle {
				return apperrors.InvalidConfig("type", "must be single or group")
			}

			s, err := opts.openSession(client.Deps{})
			if err != nil {
				return err
			}
			defer s.Close()

			room, err := s.client.Directory.Create(cmd.Context(), chat.CreateRoomRequest{
				Name:        args[0],
				Description: description,
				Type:        rt,
				MemberIDs:   members,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Created room %d (%s)\n", room.ID, room.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Room description")
	cmd.Flags().StringVar(&roomType, "type", string(chat.RoomTypeGroup), "Room type: single or group")
	cmd.Flags().Int64SliceVar(&members, "member", nil, "User id to add (repeatable)")
	return cmd
}

func newRoomsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room-id>",
		Short: "Show a room's details, including rooms you have not joined",
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
			dir := s.client.Directory
			if err := dir.Refresh(ctx); err != nil {
				return err
			}
			room, member, err := dir.Lookup(ctx, roomID)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(opts.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID:\t%d\n", room.ID)
			fmt.Fprintf(tw, "Name:\t%s\n", room.Name)
			fmt.Fprintf(tw, "Type:\t%s\n", room.Type)
			if room.Description != "" {
				fmt.Fprintf(tw, "Description:\t%s\n", room.Description)
			}
			if room.MaxMembers > 0 {
				fmt.Fprintf(tw, "Max members:\t%d\n", room.MaxMembers)
			}
			fmt.Fprintf(tw, "Member:\t%t\n", member)
			if member {
				fmt.Fprintf(tw, "Unread:\t%d\n", s.client.Ledger.Count(room.ID))
			}
			return tw.Flush()
		},
	}
}

func newRoomsJoinCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room",
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

			if err := s.client.Directory.Join(cmd.Context(), roomID); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Joined room %d\n", roomID)
			return nil
		},
	}
}

func newRoomsLeaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <room-id>",
		Short: "Leave a room",
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

			if err := s.client.Directory.Leave(cmd.Context(), roomID); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Left room %d\n", roomID)
			return nil
		},
	}
}

func parseRoomID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", arg)
	}
	return id, nil
}

// focusRoom refreshes the directory and focuses roomID, which loads its
// newest history page.
func focusRoom(ctx context.Context, c *client.Client, roomID int64) error {
	if err := c.Directory.Refresh(ctx); err != nil {
		return err
	}
	room, ok := c.Directory.Room(roomID)
	if !ok {
		return apperrors.NotMember(roomID)
	}
	return c.Directory.SetFocus(ctx, &room)
}

func formatMessage(m chat.Message) string {
	sender := fmt.Sprintf("user#%d", m.SenderID)
	if m.Sender != nil {
		sender = m.Sender.Username
		if m.Sender.Nickname != "" {
			sender = m.Sender.Nickname
		}
	}
	ts := "--:--:--"
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.Local().Format(time.TimeOnly)
	}
	content := m.Content
	if m.Type != "" && m.Type != chat.MessageTypeText {
		content = fmt.Sprintf("[%s] %s", m.Type, content)
	}
	return fmt.Sprintf("[%s] #%d %s: %s", ts, m.RoomID, sender, content)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
