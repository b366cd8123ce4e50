package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// Config describes the bot and the chats it writes to. Topics maps a
// draft state to the forum topic that mirrors it in the work chat.
type Config struct {
	BotToken      string
	BaseURL       string
	WorkChatID    int64
	ChannelChatID int64
	Topics        map[domain.DraftState]int64
	Timeout       time.Duration
}

// Transport renders draft representation pairs into a work chat and
// publishes finished drafts to the channel via the Telegram bot API.
type Transport struct {
	cfg    Config
	client *http.Client
}

var _ ports.TransportAdapter = (*Transport)(nil)

// New registers bot token and chat identifiers.
func New(cfg Config) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// RenderPair sends the POST and CARD messages for the draft's current
// state. On a partial send the already-sent post is deleted so the caller
// observes either a full pair or none.
func (t *Transport) RenderPair(ctx context.Context, draft domain.Draft) (domain.Representation, error) {
	topic := t.cfg.Topics[draft.State]

	post, err := t.sendMessage(ctx, t.cfg.WorkChatID, topic, postText(draft))
	if err != nil {
		return domain.Representation{}, fmt.Errorf("send post: %w", err)
	}

	card, err := t.sendMessage(ctx, t.cfg.WorkChatID, topic, cardText(draft))
	if err != nil {
		if delErr := t.deleteMessage(ctx, post); delErr != nil {
			err = fmt.Errorf("%w (orphaned post %d not deleted: %v)", err, post.MessageID, delErr)
		}
		return domain.Representation{}, fmt.Errorf("send card: %w", err)
	}

	return domain.Representation{Post: post, Card: card}, nil
}

// TeardownPair deletes both messages of a pair. Both deletes are always
// attempted; the first failure is reported.
func (t *Transport) TeardownPair(ctx context.Context, rep domain.Representation) error {
	postErr := t.deleteMessage(ctx, rep.Post)
	cardErr := t.deleteMessage(ctx, rep.Card)
	if postErr != nil {
		return fmt.Errorf("delete post: %w", postErr)
	}
	if cardErr != nil {
		return fmt.Errorf("delete card: %w", cardErr)
	}
	return nil
}

// Publish sends the draft to the destination channel.
func (t *Transport) Publish(ctx context.Context, draft domain.Draft) (domain.MessageRef, error) {
	ref, err := t.sendMessage(ctx, t.cfg.ChannelChatID, 0, channelText(draft))
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("publish to channel: %w", err)
	}
	return ref, nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *Transport) sendMessage(ctx context.Context, chatID, topicID int64, text string) (domain.MessageRef, error) {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "false")
	if topicID != 0 {
		form.Set("message_thread_id", strconv.FormatInt(topicID, 10))
	}

	resp, err := t.call(ctx, "sendMessage", form)
	if err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChatID: chatID, TopicID: topicID, MessageID: resp.Result.MessageID}, nil
}

func (t *Transport) deleteMessage(ctx context.Context, ref domain.MessageRef) error {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(ref.ChatID, 10))
	form.Set("message_id", strconv.FormatInt(ref.MessageID, 10))
	_, err := t.call(ctx, "deleteMessage", form)
	return err
}

// call posts one bot API method and classifies failures onto the domain
// transport errors: rate limits, server errors and network failures are
// transient, everything else is permanent.
func (t *Transport) call(ctx context.Context, method string, form url.Values) (apiResponse, error) {
	if t.cfg.BotToken == "" {
		return apiResponse{}, fmt.Errorf("%w: bot token is not configured", domain.ErrTransportPermanent)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.cfg.BaseURL, t.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: new request: %v", domain.ErrTransportPermanent, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := t.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: %s: %v", domain.ErrTransportTransient, method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: read response: %v", domain.ErrTransportTransient, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return apiResponse{}, fmt.Errorf("%w: decode %s response: %v", classify(httpResp.StatusCode), method, err)
	}
	if !resp.OK {
		code := resp.ErrorCode
		if code == 0 {
			code = httpResp.StatusCode
		}
		return apiResponse{}, fmt.Errorf("%w: %s: %d %s", classify(code), method, code, resp.Description)
	}
	return resp, nil
}

func classify(statusCode int) error {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return domain.ErrTransportTransient
	}
	return domain.ErrTransportPermanent
}

func postText(draft domain.Draft) string {
	var b strings.Builder
	if draft.Content.Title != "" {
		fmt.Fprintf(&b, "<b>%s</b>\n\n", escape(draft.Content.Title))
	}
	if draft.Content.Body != "" {
		b.WriteString(escape(draft.Content.Body))
		b.WriteString("\n\n")
	}
	b.WriteString(escape(draft.SourceURL))
	return b.String()
}

func cardText(draft domain.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", escape(draft.Content.Title))
	fmt.Fprintf(&b, "State: %s\n", draft.State)
	if draft.SourceName != "" {
		fmt.Fprintf(&b, "Source: %s\n", escape(draft.SourceName))
	}
	if draft.Domain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", escape(draft.Domain))
	}
	fmt.Fprintf(&b, "Created: %s", draft.CreatedAt.Format(time.RFC3339))
	return b.String()
}

func channelText(draft domain.Draft) string {
	var b strings.Builder
	if draft.Content.Title != "" {
		fmt.Fprintf(&b, "<b>%s</b>\n\n", escape(draft.Content.Title))
	}
	if draft.Content.Body != "" {
		b.WriteString(escape(draft.Content.Body))
		b.WriteString("\n\n")
	}
	if draft.Content.ImageURL != "" {
		b.WriteString(escape(draft.Content.ImageURL))
		b.WriteString("\n")
	}
	b.WriteString(escape(draft.SourceURL))
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
