package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateSignature(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ValidateSignature(secret, body, good) {
		t.Fatalf("valid signature rejected")
	}
	if ValidateSignature(secret, body, "bogus") {
		t.Fatalf("invalid signature accepted")
	}
	if ValidateSignature(secret, []byte(`tampered`), good) {
		t.Fatalf("tampered body accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	raw := []byte(`{
		"destination": "Ubot",
		"events": [{
			"type": "message",
			"replyToken": "rt-1",
			"timestamp": 1700000000000,
			"source": {"type": "group", "userId": "Uaaa", "groupId": "Cbbb"},
			"message": {"id": "m1", "type": "text", "text": "!hej hi", "quotedMessageId": "m0"}
		}]
	}`)

	wb, err := ParseWebhook(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(wb.Events) != 1 {
		t.Fatalf("want 1 event, got %d", len(wb.Events))
	}
	ev := wb.Events[0]
	if ev.ConversationID() != "Cbbb" {
		t.Fatalf("conversation id = %q, want group id", ev.ConversationID())
	}
	if ev.Message.QuotedMessageID != "m0" || ev.Message.Text != "!hej hi" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}

	if _, err := ParseWebhook([]byte("{nope")); err == nil {
		t.Fatalf("malformed body parsed without error")
	}
}

func TestConversationIDFallback(t *testing.T) {
	ev := Event{Source: Source{UserID: "Uaaa"}}
	if ev.ConversationID() != "Uaaa" {
		t.Fatalf("one-on-one chat should fall back to user id")
	}
	ev.Source.RoomID = "Rccc"
	if ev.ConversationID() != "Rccc" {
		t.Fatalf("room id should win over user id")
	}
}

func TestReplyAndPush(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.apiBase = srv.URL

	if err := c.Reply(context.Background(), "rt-1", "hello"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if gotPath != "/message/reply" || gotBody["replyToken"] != "rt-1" {
		t.Fatalf("unexpected reply request: %s %v", gotPath, gotBody)
	}

	if err := c.Push(context.Background(), "Cbbb", "hello"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotPath != "/message/push" || gotBody["to"] != "Cbbb" {
		t.Fatalf("unexpected push request: %s %v", gotPath, gotBody)
	}
}

func TestReplyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid reply token"}`))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.apiBase = srv.URL

	err := c.Reply(context.Background(), "expired", "hello")
	if !errors.Is(err, ErrReplyRejected) {
		t.Fatalf("want ErrReplyRejected, got %v", err)
	}
}

func TestMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/m1/content" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.dataBase = srv.URL

	data, err := c.MessageContent(context.Background(), "m1")
	if err != nil {
		t.Fatalf("message content: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}
