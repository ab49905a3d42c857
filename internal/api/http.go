package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chatsync/client/internal/chat"
	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/logger"
)

// maxErrorBody caps how much of a failed response is read for the reason.
const maxErrorBody = 64 << 10

// HTTPClient implements API over HTTP+JSON.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	log     *slog.Logger
}

// NewHTTPClient creates a client for the API rooted at baseURL. A nil
// httpClient gets one with the given timeout.
func NewHTTPClient(baseURL string, tokens TokenSource, httpClient *http.Client, timeout time.Duration, log *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
		log:     logger.Component(log, "api"),
	}
}

func (c *HTTPClient) ListRooms(ctx context.Context) ([]chat.Room, error) {
	var resp roomsResponse
	if err := c.do(ctx, "list rooms", http.MethodGet, "/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *HTTPClient) ListRoomsWithUnread(ctx context.Context) ([]chat.Room, error) {
	var resp roomsResponse
	if err := c.do(ctx, "list rooms with unread", http.MethodGet, "/rooms/unread", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *HTTPClient) CreateRoom(ctx context.Context, req chat.CreateRoomRequest) (chat.Room, error) {
	if req.MemberIDs == nil {
		req.MemberIDs = []int64{}
	}
	var resp roomResponse
	if err := c.do(ctx, "create room", http.MethodPost, "/rooms", req, &resp); err != nil {
		return chat.Room{}, err
	}
	return resp.Room, nil
}

func (c *HTTPClient) GetRoom(ctx context.Context, roomID int64) (chat.Room, error) {
	var resp roomResponse
	if err := c.do(ctx, "get room", http.MethodGet, roomPath(roomID, ""), nil, &resp); err != nil {
		return chat.Room{}, err
	}
	return resp.Room, nil
}

func (c *HTTPClient) JoinRoom(ctx context.Context, roomID int64) error {
	return c.do(ctx, "join room", http.MethodPost, roomPath(roomID, "/join"), nil, nil)
}

func (c *HTTPClient) LeaveRoom(ctx context.Context, roomID int64) error {
	return c.do(ctx, "leave room", http.MethodPost, roomPath(roomID, "/leave"), nil, nil)
}

// Messages fetches one history page. The server returns it oldest first.
func (c *HTTPClient) Messages(ctx context.Context, roomID int64, page, pageSize int) (chat.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var resp chat.Page
	if err := c.do(ctx, "load messages", http.MethodGet, roomPath(roomID, "/messages")+"?"+q.Encode(), nil, &resp); err != nil {
		return chat.Page{}, err
	}
	if resp.Page == 0 {
		resp.Page = page
	}
	if resp.PageSize == 0 {
		resp.PageSize = pageSize
	}
	return resp, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, req chat.SendMessageRequest) (chat.Message, error) {
	if req.Type == "" {
		req.Type = chat.MessageTypeText
	}
	var resp messageResponse
	if err := c.do(ctx, "send message", http.MethodPost, "/messages", req, &resp); err != nil {
		return chat.Message{}, err
	}
	return resp.Message, nil
}

func (c *HTTPClient) MarkAsRead(ctx context.Context, roomID int64) error {
	return c.do(ctx, "mark as read", http.MethodPost, roomPath(roomID, "/read"), nil, nil)
}

func (c *HTTPClient) UnreadCount(ctx context.Context, roomID int64) (int, error) {
	var resp unreadResponse
	if err := c.do(ctx, "unread count", http.MethodGet, roomPath(roomID, "/unread"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *HTTPClient) RoomMembers(ctx context.Context, roomID int64) ([]chat.User, error) {
	var resp membersResponse
	if err := c.do(ctx, "room members", http.MethodGet, roomPath(roomID, "/members"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func roomPath(roomID int64, suffix string) string {
	return "/rooms/" + strconv.FormatInt(roomID, 10) + suffix
}

// do sends one request and decodes a 2xx body into out (when non-nil).
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal(op+": encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Internal(op+": build request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeAuthRequired, "failed to read auth credential", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", "op", op, "request_id", requestID, "error", err)
		return apperrors.RemoteUnavailable(op, errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	c.log.Debug("request done", "op", op, "status", resp.StatusCode,
		"request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteFailure(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.RemoteBadResponse(op, errors.Wrap(err, "decode response"))
	}
	return nil
}

type errorBody struct {
	Error   string          `json:"error"`
	Message json.RawMessage `json:"message"`
}

// remoteFailure maps a non-2xx response to remote.failed, carrying the
// server's reason when the body has one.
func remoteFailure(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Error != "" {
			return apperrors.RemoteFailed(eb.Error)
		}
		var msg string
		if json.Unmarshal(eb.Message, &msg) == nil && msg != "" {
			return apperrors.RemoteFailed(msg)
		}
	}
	return apperrors.RemoteFailed(fmt.Sprintf("request failed with status %d", resp.StatusCode))
}
