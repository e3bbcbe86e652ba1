package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

const platformName = "discord"

// Adapter bridges a Discord gateway session. Natives on this transport
// are discordgo values; snowflake ids are decimal strings and are
// parsed into the numeric entity ids.
type Adapter struct {
	cfg     config.DiscordConfig
	session *discordgo.Session
	events  *bus.EventBus
	limiter *rate.Limiter
	http    *http.Client

	mu       sync.RWMutex
	messages map[int64]*discordgo.Message
}

func NewAdapter(cfg config.DiscordConfig, events *bus.EventBus) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	a := &Adapter{
		cfg:      cfg,
		session:  session,
		events:   events,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		http:     &http.Client{},
		messages: make(map[int64]*discordgo.Message),
	}
	session.AddHandler(a.onMessageCreate)
	return a, nil
}

func (a *Adapter) Platform() string { return platformName }

func (a *Adapter) Run(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	logger.InfoCF(platformName, "Discord gateway connected", map[string]interface{}{
		"username": a.session.State.User.Username,
	})

	<-ctx.Done()
	if err := a.session.Close(); err != nil {
		logger.WarnCF(platformName, "Error closing discord gateway", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	return ctx.Err()
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if id, err := parseSnowflake(m.ID); err == nil {
		a.mu.Lock()
		a.messages[id] = m.Message
		a.mu.Unlock()
	}
	a.events.Publish(bus.Event{Platform: platformName, Native: m.Message, Source: a})
}

// FetchEntity resolves a message id through the inbound cache; Discord
// needs a channel id alongside a message id for a remote lookup, which
// the bare numeric id does not carry.
func (a *Adapter) FetchEntity(ctx context.Context, id int64) (any, error) {
	a.mu.RLock()
	msg := a.messages[id]
	a.mu.RUnlock()
	if msg == nil {
		return nil, &entity.AdapterError{Op: "fetch", Kind: entity.KindNotFound, Err: fmt.Errorf("message %d not seen on this connection", id)}
	}
	return msg, nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) (any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sent, err := a.session.ChannelMessageSend(strconv.FormatInt(chatID, 10), text, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapREST("channelMessageSend", err)
	}
	return sent, nil
}

func (a *Adapter) ReplyTo(ctx context.Context, native any, text string) error {
	msg, ok := native.(*discordgo.Message)
	if !ok {
		return &entity.AdapterError{Op: "reply", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.session.ChannelMessageSendReply(msg.ChannelID, text, msg.Reference(), discordgo.WithContext(ctx))
	if err != nil {
		return wrapREST("channelMessageSendReply", err)
	}
	return nil
}

// EditText edits a previously sent message. Discord only lets a bot
// edit its own messages; editing an inbound message fails remotely.
func (a *Adapter) EditText(ctx context.Context, native any, text string) error {
	msg, ok := native.(*discordgo.Message)
	if !ok {
		return &entity.AdapterError{Op: "edit", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := a.session.ChannelMessageEdit(msg.ChannelID, msg.ID, text, discordgo.WithContext(ctx)); err != nil {
		return wrapREST("channelMessageEdit", err)
	}
	return nil
}

// Download fetches an attachment payload from its CDN URL.
func (a *Adapter) Download(ctx context.Context, native any) ([]byte, error) {
	att, ok := native.(*discordgo.MessageAttachment)
	if !ok {
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not downloadable", native)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
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
		switch resp.StatusCode {
		case http.StatusNotFound:
			kind = entity.KindNotFound
		case http.StatusTooManyRequests:
			kind = entity.KindRateLimited
		}
		return nil, &entity.AdapterError{Op: "download", Kind: kind, Err: fmt.Errorf("download failed with status: %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindTransport, Err: err}
	}
	return data, nil
}

func parseSnowflake(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func wrapREST(op string, err error) error {
	kind := entity.KindTransport
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			kind = entity.KindNotFound
		case http.StatusTooManyRequests:
			kind = entity.KindRateLimited
		}
	} else if strings.Contains(err.Error(), "rate limit") {
		kind = entity.KindRateLimited
	}
	return &entity.AdapterError{Op: op, Kind: kind, Err: err}
}
