package botapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

const platformName = "botapi"

const pollingRestartDelay = 5 * time.Second

// fileRef is the native handle behind downloadable Bot API attachments.
// The Bot API addresses files by opaque string ids, so the numeric
// entity id alone cannot recover the payload.
type fileRef struct {
	FileID string
}

// Adapter drives a Telegram Bot API connection via long polling.
// Native objects on this transport are telego values.
type Adapter struct {
	cfg     config.BotAPIConfig
	bot     *telego.Bot
	events  *bus.EventBus
	limiter *rate.Limiter
	http    *http.Client

	mu    sync.RWMutex
	users map[int64]*telego.User
	sets  map[string]*entity.StickerSet
}

func NewAdapter(cfg config.BotAPIConfig, events *bus.EventBus) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDefaultLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Adapter{
		cfg:     cfg,
		bot:     bot,
		events:  events,
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		http:    &http.Client{},
		users:   make(map[int64]*telego.User),
		sets:    make(map[string]*entity.StickerSet),
	}, nil
}

func (a *Adapter) Platform() string { return platformName }

// Run polls for updates until ctx is done, restarting the long poll
// when the update channel closes underneath us.
func (a *Adapter) Run(ctx context.Context) error {
	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start updates polling: %w", err)
	}

	botInfo, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	logger.InfoCF(platformName, "Telegram bot connected", map[string]interface{}{
		"username": botInfo.Username,
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				logger.WarnC(platformName, "Updates channel closed unexpectedly, attempting to restart polling...")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pollingRestartDelay):
				}
				updates, err = a.bot.UpdatesViaLongPolling(ctx, nil)
				if err != nil {
					logger.ErrorCF(platformName, "Failed to restart updates polling", map[string]interface{}{
						logger.FieldError: err.Error(),
					})
					return err
				}
				logger.InfoC(platformName, "Updates polling restarted successfully")
				continue
			}
			if update.Message == nil {
				continue
			}
			a.rememberUser(update.Message.From)
			a.events.Publish(bus.Event{Platform: platformName, Native: update.Message, Source: a})
		}
	}
}

// FetchEntity only knows users already observed in updates: the Bot API
// has no call that resolves an arbitrary user id.
func (a *Adapter) FetchEntity(ctx context.Context, id int64) (any, error) {
	a.mu.RLock()
	u := a.users[id]
	a.mu.RUnlock()
	if u == nil {
		return nil, &entity.AdapterError{Op: "fetch", Kind: entity.KindNotFound, Err: fmt.Errorf("user %d not seen on this connection", id)}
	}
	return u, nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) (any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sent, err := a.bot.SendMessage(ctx, telegoutil.Message(telegoutil.ID(chatID), text))
	if err != nil {
		return nil, wrapAPI("sendMessage", err)
	}
	return sent, nil
}

func (a *Adapter) ReplyTo(ctx context.Context, native any, text string) error {
	msg, ok := native.(*telego.Message)
	if !ok {
		return &entity.AdapterError{Op: "reply", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	params := telegoutil.Message(telegoutil.ID(msg.Chat.ID), text).
		WithReplyParameters(&telego.ReplyParameters{MessageID: msg.MessageID})
	if _, err := a.bot.SendMessage(ctx, params); err != nil {
		return wrapAPI("sendMessage", err)
	}
	return nil
}

func (a *Adapter) EditText(ctx context.Context, native any, text string) error {
	msg, ok := native.(*telego.Message)
	if !ok {
		return &entity.AdapterError{Op: "edit", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telegoutil.ID(msg.Chat.ID),
		MessageID: msg.MessageID,
		Text:      text,
	})
	if err != nil {
		return wrapAPI("editMessageText", err)
	}
	return nil
}

// Download resolves the file path for a file id and fetches the bytes
// over the file endpoint.
func (a *Adapter) Download(ctx context.Context, native any) ([]byte, error) {
	ref, ok := native.(fileRef)
	if !ok {
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not downloadable", native)}
	}

	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.FileID})
	if err != nil {
		return nil, wrapAPI("getFile", err)
	}
	if file.FilePath == "" {
		return nil, &entity.AdapterError{Op: "getFile", Kind: entity.KindNotFound, Err: fmt.Errorf("file %s has no path", ref.FileID)}
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", a.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := entity.KindTransport
		if resp.StatusCode == http.StatusNotFound {
			kind = entity.KindNotFound
		}
		return nil, &entity.AdapterError{Op: "download", Kind: kind, Err: fmt.Errorf("download failed with status: %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindTransport, Err: err}
	}
	return data, nil
}

func (a *Adapter) rememberUser(u *telego.User) {
	if u == nil {
		return
	}
	a.mu.Lock()
	a.users[u.ID] = u
	a.mu.Unlock()
}

// wrapAPI classifies a Bot API failure. telego surfaces the API error
// description in the error text; that is all there is to go on.
func wrapAPI(op string, err error) error {
	kind := entity.KindTransport
	text := err.Error()
	switch {
	case strings.Contains(text, "Too Many Requests"):
		kind = entity.KindRateLimited
	case strings.Contains(text, "not found") || strings.Contains(text, "chat not found"):
		kind = entity.KindNotFound
	}
	return &entity.AdapterError{Op: op, Kind: kind, Err: err}
}
