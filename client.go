// Package barterchat is the Go client for Barter chat.
//
// It keeps one relay connection per user, turns relay frames into a typed
// event stream, and merges that stream with paged history fetched over REST.
//
// Example:
//
//	creds := barterchat.NewMemoryCredentials(token)
//	client := barterchat.NewClient("https://api.barter.example", creds)
//
//	chat := barterchat.NewChatSync(client, &barterchat.SyncConfig{SelfUserID: 7})
//	chat.Start()
//	defer chat.Close()
//
//	sub := chat.Events().Subscribe()
//	defer sub.Close()
//	chat.Connect(ctx)
//	chat.LoadPage(ctx, 42, 0, 50)
//	for ev := range sub.C {
//		...
//	}
package barterchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 50
)

// ============================================================================
// Client
// ============================================================================

// Client calls the chat REST endpoints and creates relay clients sharing
// the same credential source.
type Client struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
	logger     Logger
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger Logger) ClientOption {
	return func(c *Client) { c.logger = orNoop(logger) }
}

// NewClient creates a client for the API at baseURL, e.g.
// "https://api.barter.example".
func NewClient(baseURL string, creds CredentialSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Realtime creates a relay client for this API. A nil config uses defaults;
// its Logger falls back to the client's.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	if config == nil {
		config = &RealtimeConfig{}
	}
	if config.Logger == nil {
		config.Logger = c.logger
	}
	return NewRealtimeClient(c.baseURL, c.creds, config)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}, query url.Values) (*APIResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, newError(ErrorAuth, op, "credential source failed", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrorRequest, op, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrorRequest, op, "failed to read response", err)
	}

	var result APIResult
	decodeErr := json.Unmarshal(data, &result)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: ErrorAuth, Op: op, Message: result.Message, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: ErrorRequest, Op: op, Message: result.Message, StatusCode: resp.StatusCode}
	case decodeErr != nil:
		return nil, newError(ErrorRequest, op, "failed to unmarshal response", decodeErr)
	case !result.Success:
		return nil, &Error{Kind: ErrorRequest, Op: op, Message: result.Message, StatusCode: resp.StatusCode}
	}

	c.logger.Debug("request completed", map[string]any{"op": op, "status": resp.StatusCode})
	return &result, nil
}

func pageQuery(page, size int) url.Values {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("size", fmt.Sprintf("%d", size))
	return q
}

// ============================================================================
// Chat API Methods
// ============================================================================

// GetConversations lists the user's conversations, most recent first.
func (c *Client) GetConversations(ctx context.Context, page, size int) (*Page[Conversation], error) {
	result, err := c.doRequest(ctx, "conversations", "GET", "/api/chat/conversations", nil, pageQuery(page, size))
	if err != nil {
		return nil, err
	}
	var wire Page[wireConversation]
	if err := result.Decode(&wire); err != nil {
		return nil, newError(ErrorRequest, "conversations", "failed to unmarshal response", err)
	}

	out := &Page[Conversation]{
		Content:       make([]Conversation, 0, len(wire.Content)),
		TotalPages:    wire.TotalPages,
		TotalElements: wire.TotalElements,
		Size:          wire.Size,
		Number:        wire.Number,
		First:         wire.First,
		Last:          wire.Last,
		Empty:         wire.Empty,
	}
	for i := range wire.Content {
		conv, err := wire.Content[i].toConversation()
		if err != nil {
			return nil, newError(ErrorRequest, "conversations", fmt.Sprintf("conversation %d invalid", wire.Content[i].ID), err)
		}
		out.Content = append(out.Content, conv)
	}
	return out, nil
}

// GetConversationDetail fetches one page of a conversation's messages.
func (c *Client) GetConversationDetail(ctx context.Context, conversationID int64, page, size int) (*ConversationDetail, error) {
	path := fmt.Sprintf("/api/chat/conversations/%d", conversationID)
	result, err := c.doRequest(ctx, "history", "GET", path, nil, pageQuery(page, size))
	if err != nil {
		return nil, err
	}
	var wire wireConversationDetail
	if err := result.Decode(&wire); err != nil {
		return nil, newError(ErrorRequest, "history", "failed to unmarshal response", err)
	}
	detail, err := wire.toDetail()
	if err != nil {
		return nil, newError(ErrorRequest, "history", "invalid message in page", err)
	}
	return detail, nil
}

// SendMessage sends a text message to receiverID.
func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string) (*Message, error) {
	return c.SendMessageKind(ctx, receiverID, content, MessageText)
}

// SendMessageKind sends a message of the given kind. For images content is
// the uploaded image URL.
func (c *Client) SendMessageKind(ctx context.Context, receiverID int64, content string, kind MessageKind) (*Message, error) {
	if kind == "" {
		kind = MessageText
	}
	if !kind.valid() {
		return nil, newError(ErrorConfig, "send", fmt.Sprintf("unknown message kind %q", kind), nil)
	}
	result, err := c.doRequest(ctx, "send", "POST", "/api/chat/send", &SendMessageRequest{
		ReceiverID: receiverID,
		Content:    content,
		Type:       kind,
	}, nil)
	if err != nil {
		return nil, err
	}
	var wire wireMessage
	if err := result.Decode(&wire); err != nil {
		return nil, newError(ErrorRequest, "send", "failed to unmarshal response", err)
	}
	msg, err := wire.toMessage()
	if err != nil {
		return nil, newError(ErrorRequest, "send", "invalid message in response", err)
	}
	return &msg, nil
}
