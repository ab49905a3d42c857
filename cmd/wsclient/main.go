// Command wsclient is a bare websocket client for poking at a chat server.
// It prints every inbound frame and how the dispatcher would decode it.
// Usage: go run ./cmd/wsclient ws://127.0.0.1:8080/api/v1/ws <token>
package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/client/internal/chat"
	"github.com/chatsync/client/internal/dispatch"
	apperrors "github.com/chatsync/client/internal/errors"
)

func main() {
	target := "ws://127.0.0.1:8080/api/v1/ws"
	if len(os.Args) > 1 {
		target = os.Args[1]
	}
	if len(os.Args) > 2 {
		u, err := url.Parse(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid URL: %v\n", err)
			os.Exit(1)
		}
		q := u.Query()
		q.Set("token", os.Args[2])
		u.RawQuery = q.Encode()
		target = u.String()
	}

	fmt.Printf("Connecting to %s...\n", target)

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Connected! Waiting for frames...")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	frameCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			frameCount++

			ev, err := dispatch.Decode(data)
			if err != nil {
				code, msg := apperrors.ToCodeAndMessage(err)
				fmt.Printf("[%d] dropped (%s: %s) raw=%s\n", frameCount, code, msg, string(data))
				continue
			}

			fmt.Printf("[%d] %s type=%s", frameCount, ev.Kind, ev.Type)
			if ev.Kind == chat.EventChatMessage {
				m := ev.Message
				fmt.Printf(" room=%d id=%d sender=%d content=%q", m.RoomID, m.ID, m.SenderID, m.Content)
			}
			fmt.Println()
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total frames received: %d\n", frameCount)
}
