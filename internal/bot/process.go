package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/convo"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/imgproc"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/llm"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/queue"
)

// processItem runs on the worker goroutine with the concurrency gate held.
// It resolves any quoted image, builds the prompt from the captured config
// snapshot plus the live conversation context, calls the model and delivers
// the answer.
func (b *Bot) processItem(ctx context.Context, it *queue.Item) error {
	var image []byte
	if it.QuotedImageID != "" {
		data, err := b.messenger.MessageContent(ctx, it.QuotedImageID)
		if err != nil {
			// The question may still make sense without the image, so the
			// request proceeds text-only.
			log.Printf("request %s: quoted image %s unavailable: %v", it.ID, it.QuotedImageID, err)
		} else {
			prepared, err := imgproc.Prepare(data)
			if err != nil {
				// The payload itself is bad; retrying cannot help.
				return fmt.Errorf("%w: quoted image %s: %v", llm.ErrMalformed, it.QuotedImageID, err)
			}
			image = prepared
		}
	}

	req := llm.Request{
		SystemPrompt: it.Config.Prompt.Content,
		Prompt:       b.buildPrompt(it),
		Image:        image,
	}

	started := time.Now()
	resp, err := b.llmClient.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	log.Printf("request %s: model %s answered in %s (%d tokens)",
		it.ID, resp.Model, time.Since(started).Round(time.Millisecond), resp.TotalTokens)

	if err := b.deliver(ctx, it, resp.Content); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	// The bot's own reply joins the conversation context only once it has
	// actually reached the chat.
	b.convos.Append(it.ConversationID, convo.Entry{
		SenderID: "bot",
		Kind:     convo.KindReply,
		Text:     resp.Content,
	})
	return nil
}

// buildPrompt combines the user's question with the quoted message and the
// recent conversation, each in its own fenced section so the model can tell
// them apart.
func (b *Bot) buildPrompt(it *queue.Item) string {
	var sb strings.Builder
	sb.WriteString("User's question: ")
	sb.WriteString(it.Prompt)

	if it.QuotedText != "" {
		sb.WriteString("\n\nReferenced message:\n---\n")
		sb.WriteString(it.QuotedText)
		sb.WriteString("\n---")
	}

	if history := b.convos.FormatPrompt(it.ConversationID, b.cfg.ContextMaxMessages); history != "" {
		sb.WriteString("\n\nRecent conversation:\n---\n")
		sb.WriteString(history)
		sb.WriteString("\n---")
	}
	return sb.String()
}

// deliver answers through the reply token while it is still plausibly valid,
// and falls back to a push to the conversation otherwise.
func (b *Bot) deliver(ctx context.Context, it *queue.Item, text string) error {
	if it.ReplyToken != "" && time.Since(it.CreatedAt) < b.cfg.ReplyTokenValidity {
		err := b.messenger.Reply(ctx, it.ReplyToken, text)
		if err == nil {
			return nil
		}
		log.Printf("request %s: reply token rejected, falling back to push: %v", it.ID, err)
	}
	return b.messenger.Push(ctx, it.ConversationID, text)
}

// onItemDone runs after the gate is released. Failures and timeouts owe the
// requester an answer; a delivered item already got one.
func (b *Bot) onItemDone(it *queue.Item, outcome queue.Outcome, err error) {
	if outcome == queue.OutcomeDelivered {
		return
	}
	msg := msgError
	if outcome == queue.OutcomeTimedOut {
		msg = msgTimedOut
	}
	if err != nil && errors.Is(err, llm.ErrExhausted) {
		msg = msgQueueFull
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Same token-then-push path as a successful answer: a fast failure can
	// still ride the reply token.
	if perr := b.deliver(ctx, it, msg); perr != nil {
		log.Printf("request %s: failure notice undeliverable: %v", it.ID, perr)
	}
}
