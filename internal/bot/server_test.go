package bot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	b, m, _ := newTestBot(testConfig())
	srv := httptest.NewServer(b.Router())
	defer srv.Close()

	body := `{"events":[{"type":"message","replyToken":"tok","source":{"type":"group","userId":"U1","groupId":"G1"},"message":{"id":"m1","type":"text","text":"!hej hi"}}]}`

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", "bogus")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if len(m.messages()) != 0 {
		t.Fatalf("forged webhook must not be handled")
	}
}

func TestWebhookAcceptsSignedBody(t *testing.T) {
	b, _, _ := newTestBot(testConfig())
	srv := httptest.NewServer(b.Router())
	defer srv.Close()

	body := `{"events":[{"type":"message","source":{"type":"group","userId":"U1","groupId":"G1"},"message":{"id":"m1","type":"text","text":"hello there"}}]}`

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", sign("secret", []byte(body)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := b.convos.Count(); got != 1 {
		t.Fatalf("event not handled, conversation count = %d", got)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	b, _, _ := newTestBot(testConfig())
	srv := httptest.NewServer(b.Router())
	defer srv.Close()

	body := `{"events": not json`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", sign("secret", []byte(body)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthReportsComponents(t *testing.T) {
	b, _, _ := newTestBot(testConfig())
	srv := httptest.NewServer(b.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st struct {
		Status string `json:"status"`
		Queue  struct {
			Capacity int `json:"capacity"`
		} `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", st.Status)
	}
	if st.Queue.Capacity != 10 {
		t.Fatalf("queue capacity = %d, want 10", st.Queue.Capacity)
	}
}
