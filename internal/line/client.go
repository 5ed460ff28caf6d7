// Package line is the transport collaborator: a thin REST client for the LINE
// Messaging API plus webhook parsing and signature validation.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIBase  = "https://api.line.me/v2/bot"
	defaultDataBase = "https://api-data.line.me/v2/bot"
)

// ErrReplyRejected means the API refused the reply token, typically because
// its validity window has passed or it was already used. Callers fall back to
// a push message.
var ErrReplyRejected = errors.New("line: reply token rejected")

type Client struct {
	httpClient  *http.Client
	accessToken string
	apiBase     string
	dataBase    string
}

func NewClient(accessToken string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		accessToken: accessToken,
		apiBase:     defaultAPIBase,
		dataBase:    defaultDataBase,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageMessage struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

// Reply sends a message through a reply token. Only valid for a short window
// after the inbound event; ErrReplyRejected signals the caller to push.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	return c.reply(ctx, replyToken, textMessage{Type: "text", Text: text})
}

func (c *Client) ReplyImage(ctx context.Context, replyToken, originalURL, previewURL string) error {
	return c.reply(ctx, replyToken, imageMessage{Type: "image", OriginalContentURL: originalURL, PreviewImageURL: previewURL})
}

// Push delivers to a conversation independent of any inbound event.
func (c *Client) Push(ctx context.Context, to, text string) error {
	return c.push(ctx, to, textMessage{Type: "text", Text: text})
}

func (c *Client) PushImage(ctx context.Context, to, originalURL, previewURL string) error {
	return c.push(ctx, to, imageMessage{Type: "image", OriginalContentURL: originalURL, PreviewImageURL: previewURL})
}

func (c *Client) reply(ctx context.Context, replyToken string, msg any) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []any{msg},
	}
	status, body, err := c.post(ctx, c.apiBase+"/message/reply", payload)
	if err != nil {
		return err
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrReplyRejected, status, body)
	}
	if status >= 300 {
		return fmt.Errorf("line reply failed: status %d: %s", status, body)
	}
	return nil
}

func (c *Client) push(ctx context.Context, to string, msg any) error {
	payload := map[string]any{
		"to":       to,
		"messages": []any{msg},
	}
	status, body, err := c.post(ctx, c.apiBase+"/message/push", payload)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("line push failed: status %d: %s", status, body)
	}
	return nil
}

// MessageContent downloads the media bytes of an inbound message from the
// data host.
func (c *Client) MessageContent(ctx context.Context, messageID string) ([]byte, error) {
	url := fmt.Sprintf("%s/message/%s/content", c.dataBase, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("message content request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("message content failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

func (c *Client) post(ctx context.Context, url string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("line api request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}
