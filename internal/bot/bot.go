// Package bot glues the components together: it turns webhook events into
// context appends and admitted work items, and runs the worker-side
// processing of each item.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/config"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/convo"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/drivesync"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/line"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/llm"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/msgcache"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/queue"
	"github.com/huang422/LineBot-VLM-GroupAgent/internal/ratelimit"
)

// User-facing status messages. Short and localized; internal detail goes to
// the log, never to the chat.
const (
	msgQueueFull     = "⚠️ 抱歉，系統目前繁忙。請稍後再試。"
	msgRateLimited   = "⚠️ 您的請求太頻繁了。請在 %d 秒後再試。"
	msgEmptyPrompt   = "❓ 請在 !hej 後輸入您的問題。例如：!hej 今天天氣如何？"
	msgPromptTooLong = "⚠️ 您的問題太長了，請縮短後再試。"
	msgError         = "❌ 處理請求時發生錯誤，請稍後再試。"
	msgTimedOut      = "⌛ 處理逾時，請稍後再試。"
	msgNoKeyword     = "❓ 請指定圖片關鍵字。例如：!img 架構圖"
	msgImgNotFound   = "❌ 找不到「%s」。\n\n可用的關鍵字：\n%s"
	msgNoKeywords    = "ℹ️ 目前沒有設定任何圖片關鍵字。"
	msgImgError      = "❌ 無法取得圖片，請稍後再試。"
	msgNotConfigured = "⚠️ 此功能未設定。請聯繫管理員。"
	msgReloadOK      = "✅ 設定已更新！(版本 %d，共 %d 個圖片關鍵字)"
	msgReloadNoop    = "ℹ️ 設定已是最新，無需更新。"
	msgReloadError   = "❌ 重新載入失敗，請稍後再試。"
)

// Messenger is the outbound half of the transport collaborator.
// *line.Client implements it.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	ReplyImage(ctx context.Context, replyToken, originalURL, previewURL string) error
	Push(ctx context.Context, to, text string) error
	PushImage(ctx context.Context, to, originalURL, previewURL string) error
	MessageContent(ctx context.Context, messageID string) ([]byte, error)
}

type Bot struct {
	cfg       *config.Config
	messenger Messenger
	llmClient llm.Client
	configs   *drivesync.Cache

	limiter *ratelimit.Limiter
	convos  *convo.Store
	msgs    *msgcache.Cache
	queue   *queue.Queue
	worker  *queue.Worker
}

func New(cfg *config.Config, messenger Messenger, llmClient llm.Client, configs *drivesync.Cache) *Bot {
	b := &Bot{
		cfg:       cfg,
		messenger: messenger,
		llmClient: llmClient,
		configs:   configs,
		limiter:   ratelimit.New(cfg.RateLimitMaxRequests, cfg.RateLimitWindow),
		convos:    convo.NewStore(cfg.ContextMaxMessages, cfg.ContextTTL),
		msgs:      msgcache.New(100, time.Hour),
		queue:     queue.NewQueue(cfg.QueueMaxSize),
	}
	b.worker = queue.NewWorker(b.queue, b.processItem, b.onItemDone)
	return b
}

// StartWorker launches the single sequential worker loop.
func (b *Bot) StartWorker(ctx context.Context) {
	go b.worker.Run(ctx)
}

// HandleEvent processes one webhook event. It never blocks on inference:
// inference work is enqueued (or rejected) and the call returns.
func (b *Bot) HandleEvent(ctx context.Context, ev line.Event) {
	if ev.Type != "message" {
		return
	}

	userID := ev.Source.UserID
	conversationID := ev.ConversationID()
	msg := ev.Message

	if msg.ID != "" {
		cached := msgcache.Message{ID: msg.ID, Type: msg.Type}
		if msg.Type == "text" {
			cached.Text = msg.Text
		}
		b.msgs.Put(cached)
	}

	// Context is appended for every message in arrival order, whether or not
	// it turns into a command.
	if userID != "" && conversationID != "" {
		switch msg.Type {
		case "text":
			if msg.Text != "" {
				b.convos.Append(conversationID, convo.Entry{SenderID: userID, Kind: convo.KindText, Text: msg.Text})
			}
		case "image":
			b.convos.Append(conversationID, convo.Entry{SenderID: userID, Kind: convo.KindImage})
		case "sticker":
			b.convos.Append(conversationID, convo.Entry{SenderID: userID, Kind: convo.KindSticker})
		}
	}

	if msg.Type != "text" {
		return
	}
	cmd := ParseCommand(msg.Text)
	switch cmd.Type {
	case CmdHej:
		b.handleHej(ctx, cmd, ev)
	case CmdImg:
		b.handleImg(ctx, cmd, ev)
	case CmdReload:
		b.handleReload(ctx, ev)
	case CmdUnknown:
		log.Printf("unknown command in conversation %s ignored", short(conversationID))
	}
}

func (b *Bot) handleHej(ctx context.Context, cmd Command, ev line.Event) {
	userID := ev.Source.UserID
	conversationID := ev.ConversationID()
	if userID == "" || conversationID == "" {
		log.Printf("hej event missing user or conversation id, dropped")
		return
	}

	quotedText, quotedImageID := b.resolveQuoted(ev.Message.QuotedMessageID)

	if cmd.Argument == "" && quotedText == "" && quotedImageID == "" {
		b.reply(ctx, ev, msgEmptyPrompt)
		return
	}
	if len(cmd.Argument) > maxPromptLength {
		b.reply(ctx, ev, msgPromptTooLong)
		return
	}

	// A bare keyword that maps to an image short-circuits to an image send,
	// without burning a rate-limit slot or a queue slot.
	if cmd.Argument != "" {
		if _, ok := b.configs.Current().Images.ByKeyword(cmd.Argument); ok {
			b.sendKeywordImage(ctx, ev, cmd.Argument)
			return
		}
	}

	allowed, retryAfter := b.limiter.Admit(userID)
	if !allowed {
		log.Printf("rate limit exceeded for user %s (retry in %s)", short(userID), retryAfter.Round(time.Second))
		b.reply(ctx, ev, fmt.Sprintf(msgRateLimited, int(retryAfter.Seconds())+1))
		return
	}

	prompt := cmd.Argument
	if prompt == "" {
		prompt = "請分析這個內容"
	}

	it := queue.NewItem(userID, conversationID, prompt, b.configs.Current(), ev.ReplyToken, b.cfg.QueueTimeout)
	it.QuotedText = quotedText
	it.QuotedImageID = quotedImageID

	pos, err := b.queue.TryEnqueue(it)
	if err != nil {
		log.Printf("queue full, request %s rejected (user=%s)", it.ID, short(userID))
		b.reply(ctx, ev, msgQueueFull)
		return
	}
	log.Printf("request %s queued at position %d (user=%s, conversation=%s, quoted=%v)",
		it.ID, pos, short(userID), short(conversationID), quotedText != "" || quotedImageID != "")
}

// resolveQuoted looks the quoted message up in the cache. Quoted text is
// carried on the item directly; a quoted user image is carried by id and
// downloaded at process time.
func (b *Bot) resolveQuoted(quotedMessageID string) (text, imageID string) {
	if quotedMessageID == "" {
		return "", ""
	}
	cached, ok := b.msgs.Get(quotedMessageID)
	if !ok {
		log.Printf("quoted message %s not found in cache", quotedMessageID)
		return "", ""
	}
	switch cached.Type {
	case "text":
		return cached.Text, ""
	case "image":
		return "", cached.ID
	}
	return "", ""
}

func (b *Bot) handleImg(ctx context.Context, cmd Command, ev line.Event) {
	if cmd.Argument == "" {
		b.reply(ctx, ev, msgNoKeyword)
		return
	}
	if !b.configs.Configured() {
		b.reply(ctx, ev, msgNotConfigured)
		return
	}
	images := b.configs.Current().Images
	if len(images.Mappings) == 0 {
		b.reply(ctx, ev, msgNoKeywords)
		return
	}
	if _, ok := images.ByKeyword(cmd.Argument); !ok {
		b.reply(ctx, ev, fmt.Sprintf(msgImgNotFound, cmd.Argument, keywordList(images.Keywords())))
		return
	}
	b.sendKeywordImage(ctx, ev, cmd.Argument)
}

func (b *Bot) sendKeywordImage(ctx context.Context, ev line.Event, keyword string) {
	data, filename, err := b.configs.Asset(ctx, keyword)
	if err != nil {
		log.Printf("asset fetch failed for keyword %q: %v", keyword, err)
		b.reply(ctx, ev, msgImgError)
		return
	}

	if b.cfg.PublicBaseURL == "" {
		// Without a public URL LINE cannot fetch the image; confirm the
		// lookup instead of silently dropping it.
		b.reply(ctx, ev, fmt.Sprintf("📷 圖片: %s (%.1f KB)\n(未設定 PUBLIC_BASE_URL，無法直接發送圖片)", filename, float64(len(data))/1024))
		return
	}

	url := b.cfg.PublicBaseURL + "/images/" + filename
	if err := b.messenger.ReplyImage(ctx, ev.ReplyToken, url, url); err != nil {
		if perr := b.messenger.PushImage(ctx, ev.ConversationID(), url, url); perr != nil {
			log.Printf("failed to send image %q: reply: %v, push: %v", filename, err, perr)
			return
		}
	}
	log.Printf("📷 image sent for keyword %q (%s)", keyword, filename)
}

func (b *Bot) handleReload(ctx context.Context, ev line.Event) {
	if !b.configs.Configured() {
		b.reply(ctx, ev, msgNotConfigured)
		return
	}
	log.Printf("manual config reload triggered by user %s", short(ev.Source.UserID))

	changed, err := b.configs.Refresh(ctx)
	switch {
	case err != nil:
		b.reply(ctx, ev, msgReloadError)
	case changed:
		snap := b.configs.Current()
		b.reply(ctx, ev, fmt.Sprintf(msgReloadOK, snap.Version, len(snap.Images.Mappings)))
	default:
		b.reply(ctx, ev, msgReloadNoop)
	}
}

// reply answers through the event's reply token, falling back to a push when
// the token is rejected.
func (b *Bot) reply(ctx context.Context, ev line.Event, text string) {
	if ev.ReplyToken != "" {
		err := b.messenger.Reply(ctx, ev.ReplyToken, text)
		if err == nil {
			return
		}
		if !errors.Is(err, line.ErrReplyRejected) {
			log.Printf("reply failed: %v", err)
		}
	}
	if to := ev.ConversationID(); to != "" {
		if err := b.messenger.Push(ctx, to, text); err != nil {
			log.Printf("push failed: %v", err)
		}
	}
}

func keywordList(keywords []string) string {
	const maxShown = 10
	shown := keywords
	extra := 0
	if len(shown) > maxShown {
		extra = len(shown) - maxShown
		shown = shown[:maxShown]
	}
	out := ""
	for i, k := range shown {
		if i > 0 {
			out += "、"
		}
		out += k
	}
	if extra > 0 {
		out += fmt.Sprintf("\n...還有 %d 個", extra)
	}
	return out
}

func short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
