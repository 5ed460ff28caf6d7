package bot

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/line"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/llm"
)

const maxWebhookBody = 1 << 20 // LINE payloads are small; cap defensively

// Router builds the HTTP surface: the webhook, the health endpoint and the
// static image directory the Messaging API fetches sent images from.
func (b *Bot) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "linebot-vlm-groupagent"})
	})
	r.Post("/webhook", b.handleWebhook)
	r.Get("/health", b.handleHealth)
	if b.cfg.CacheDir != "" {
		fs := http.StripPrefix("/images/", http.FileServer(http.Dir(b.cfg.CacheDir)))
		r.Get("/images/*", fs.ServeHTTP)
	}
	return r
}

// handleWebhook validates the signature, parses the envelope and handles the
// events sequentially. LINE retries on non-200, so once the signature checks
// out the response is always 200 regardless of per-event outcomes.
func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Line-Signature")
	if !line.ValidateSignature(b.cfg.LineChannelSecret, body, signature) {
		log.Printf("webhook rejected: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	wb, err := line.ParseWebhook(body)
	if err != nil {
		log.Printf("webhook rejected: %v", err)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	for _, ev := range wb.Events {
		b.HandleEvent(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type healthStatus struct {
	Status        string           `json:"status"`
	Queue         any              `json:"queue"`
	RateLimiter   map[string]int   `json:"rate_limiter"`
	Conversations int              `json:"conversations"`
	Config        any              `json:"config"`
	LLM           string           `json:"llm"`
}

func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{
		Status:        "healthy",
		Queue:         b.worker.Stats(),
		RateLimiter:   b.limiter.Occupancy(),
		Conversations: b.convos.Count(),
		Config:        b.configs.Stats(),
		LLM:           "ok",
	}

	if p, ok := b.llmClient.(llm.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			st.Status = "degraded"
			st.LLM = err.Error()
		}
	}

	code := http.StatusOK
	if st.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
