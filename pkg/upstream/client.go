// Package upstream talks to the external assistant API and exposes its
// reply as a raw SSE byte stream.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pjgq/relay/pkg/storage"
)

// Config carries the upstream endpoint and credentials.
type Config struct {
	URL    string
	APIKey string
	BotID  string
}

// StatusError reports a non-200 response from the upstream API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ChatRequest carries one streaming chat exchange. BotID, when set,
// overrides the configured bot.
type ChatRequest struct {
	UserID  string
	Prompt  string
	BotID   string
	History []storage.Turn
}

// message is one entry in the upstream chat request body.
type message struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Type        string `json:"type"`
}

type chatBody struct {
	BotID              string         `json:"bot_id"`
	UserID             string         `json:"user_id"`
	Stream             bool           `json:"stream"`
	AdditionalMessages []message      `json:"additional_messages"`
	Parameters         map[string]any `json:"parameters"`
}

// Client opens streaming chat requests against the upstream API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New builds a Client. The HTTP client carries no timeout: streams stay
// open as long as the upstream keeps talking, and callers cancel via ctx.
func New(config Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
	}
}

// OpenStream sends the prompt plus prior history and returns the raw SSE
// response body. The caller owns the returned reader and must close it.
func (c *Client) OpenStream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	messages := make([]message, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, message{
			Role:        turn.Role,
			Content:     turn.Content,
			ContentType: "text",
			Type:        messageType(turn.Role),
		})
	}
	messages = append(messages, message{
		Role:        "user",
		Content:     req.Prompt,
		ContentType: "text",
		Type:        "question",
	})

	botID := req.BotID
	if botID == "" {
		botID = c.config.BotID
	}

	body, err := json.Marshal(chatBody{
		BotID:              botID,
		UserID:             req.UserID,
		Stream:             true,
		AdditionalMessages: messages,
		Parameters:         map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", bearerToken(c.config.APIKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return resp.Body, nil
}

func messageType(role string) string {
	if role == "assistant" {
		return "answer"
	}
	return "question"
}

// bearerToken normalizes a configured key that may already carry the
// "Bearer " prefix.
func bearerToken(key string) string {
	if strings.HasPrefix(key, "Bearer ") {
		return key
	}
	return "Bearer " + key
}
