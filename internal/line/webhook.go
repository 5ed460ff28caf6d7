package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Webhook envelope structs, shaped after the Messaging API webhook payload.

type WebhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

type Event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Timestamp  int64   `json:"timestamp"` // milliseconds since epoch
	Source     Source  `json:"source"`
	Message    Message `json:"message"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}

type Message struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Text            string `json:"text"`
	QuotedMessageID string `json:"quotedMessageId"`
}

// ConversationID returns the key context is aggregated under: the group or
// room when present, the user id for one-on-one chats.
func (e Event) ConversationID() string {
	if e.Source.GroupID != "" {
		return e.Source.GroupID
	}
	if e.Source.RoomID != "" {
		return e.Source.RoomID
	}
	return e.Source.UserID
}

// ValidateSignature checks the X-Line-Signature header against the raw body:
// base64(HMAC-SHA256(channel secret, body)), compared in constant time.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func ParseWebhook(body []byte) (*WebhookBody, error) {
	var wb WebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("failed to parse webhook body: %w", err)
	}
	return &wb, nil
}
