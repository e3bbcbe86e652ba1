package telegram

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/time/rate"

	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

const platformName = "telegram"

// Telegram caps bots around 30 messages per second; stay under it.
const sendRatePerSecond = 25

// Adapter owns the MTProto session and exposes the capability surface
// entities call back into. Native objects here are gotd tg.* values.
type Adapter struct {
	cfg      config.TelegramConfig
	client   *telegram.Client
	api      *tg.Client
	events   *bus.EventBus
	limiter  *rate.Limiter
	download *downloader.Downloader

	mu    sync.RWMutex
	peers map[int64]*tg.User
	sets  map[int64]*entity.StickerSet
}

func NewAdapter(cfg config.TelegramConfig, events *bus.EventBus) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		events:   events,
		limiter:  rate.NewLimiter(rate.Limit(sendRatePerSecond), 5),
		download: downloader.NewDownloader(),
		peers:    make(map[int64]*tg.User),
		sets:     make(map[int64]*entity.StickerSet),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(a.onNewMessage)

	a.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
	})
	a.api = a.client.API()

	return a
}

func (a *Adapter) Platform() string { return platformName }

// Run connects, authenticates with the bot token when the stored
// session is not authorized, and blocks until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	return a.client.Run(ctx, func(runCtx context.Context) error {
		status, err := a.client.Auth().Status(runCtx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			if _, err := a.client.Auth().Bot(runCtx, a.cfg.BotToken); err != nil {
				return fmt.Errorf("bot auth: %w", err)
			}
		}
		logger.InfoC(platformName, "Telegram client authenticated and ready")

		<-runCtx.Done()
		return runCtx.Err()
	})
}

func (a *Adapter) onNewMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	a.rememberUsers(e.Users)

	msg, ok := update.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	logger.DebugCF(platformName, "Inbound message", map[string]interface{}{
		"message_id": msg.ID,
	})
	a.events.Publish(bus.Event{Platform: platformName, Native: msg, Source: a})
	return nil
}

// FetchEntity resolves a user id into its native object, preferring the
// cache of users already observed in updates (raw users.getUsers needs
// an access hash we only learn that way).
func (a *Adapter) FetchEntity(ctx context.Context, id int64) (any, error) {
	if u := a.cachedUser(id); u != nil {
		return u, nil
	}

	users, err := a.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: id}})
	if err != nil {
		return nil, wrapRPC("users.getUsers", err)
	}
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok && u.ID == id {
			a.rememberUsers(map[int64]*tg.User{u.ID: u})
			return u, nil
		}
	}
	return nil, &entity.AdapterError{Op: "users.getUsers", Kind: entity.KindNotFound, Err: fmt.Errorf("user %d not found", id)}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) (any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	upd, err := a.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     a.inputPeerUser(chatID),
		Message:  text,
		RandomID: rand.Int63(),
	})
	if err != nil {
		return nil, wrapRPC("messages.sendMessage", err)
	}
	return upd, nil
}

func (a *Adapter) ReplyTo(ctx context.Context, native any, text string) error {
	msg, ok := native.(*tg.Message)
	if !ok {
		return &entity.AdapterError{Op: "reply", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     a.inputPeer(msg.PeerID),
		Message:  text,
		RandomID: rand.Int63(),
	}
	req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: msg.ID})
	if _, err := a.api.MessagesSendMessage(ctx, req); err != nil {
		return wrapRPC("messages.sendMessage", err)
	}
	return nil
}

func (a *Adapter) EditText(ctx context.Context, native any, text string) error {
	msg, ok := native.(*tg.Message)
	if !ok {
		return &entity.AdapterError{Op: "edit", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not a message", native)}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{
		Peer: a.inputPeer(msg.PeerID),
		ID:   msg.ID,
	}
	req.SetMessage(text)
	if _, err := a.api.MessagesEditMessage(ctx, req); err != nil {
		return wrapRPC("messages.editMessage", err)
	}
	return nil
}

// Download streams the binary payload behind a photo or document
// native into memory.
func (a *Adapter) Download(ctx context.Context, native any) ([]byte, error) {
	loc, err := fileLocation(native)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := a.download.Download(a.api, loc).Stream(ctx, &buf); err != nil {
		return nil, wrapRPC("upload.getFile", err)
	}
	return buf.Bytes(), nil
}

func fileLocation(native any) (tg.InputFileLocationClass, error) {
	switch v := native.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := v.GetPhoto()
		if !ok {
			return nil, &entity.AdapterError{Op: "download", Kind: entity.KindNotFound, Err: fmt.Errorf("photo media is empty")}
		}
		return fileLocation(photo)
	case *tg.Photo:
		return &tg.InputPhotoFileLocation{
			ID:            v.ID,
			AccessHash:    v.AccessHash,
			FileReference: v.FileReference,
			ThumbSize:     largestPhotoSizeType(v.Sizes),
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := v.GetDocument()
		if !ok {
			return nil, &entity.AdapterError{Op: "download", Kind: entity.KindNotFound, Err: fmt.Errorf("document media is empty")}
		}
		return fileLocation(doc)
	case *tg.Document:
		return &tg.InputDocumentFileLocation{
			ID:            v.ID,
			AccessHash:    v.AccessHash,
			FileReference: v.FileReference,
		}, nil
	default:
		return nil, &entity.AdapterError{Op: "download", Kind: entity.KindNotFound, Err: fmt.Errorf("native %T is not downloadable", native)}
	}
}

func (a *Adapter) rememberUsers(users map[int64]*tg.User) {
	if len(users) == 0 {
		return
	}
	a.mu.Lock()
	for id, u := range users {
		a.peers[id] = u
	}
	a.mu.Unlock()
}

func (a *Adapter) cachedUser(id int64) *tg.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.peers[id]
}

func (a *Adapter) inputPeerUser(id int64) tg.InputPeerClass {
	if u := a.cachedUser(id); u != nil {
		return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
	}
	return &tg.InputPeerUser{UserID: id}
}

func (a *Adapter) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return a.inputPeerUser(p.UserID)
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// wrapRPC classifies an MTProto RPC failure into the adapter error
// taxonomy. Flood waits are rate limits; invalid-id style errors are
// not-found; everything else is transport.
func wrapRPC(op string, err error) error {
	kind := entity.KindTransport
	if _, ok := tgerr.AsFloodWait(err); ok {
		kind = entity.KindRateLimited
	} else if tgerr.Is(err, "USER_ID_INVALID", "PEER_ID_INVALID", "MESSAGE_ID_INVALID", "STICKERSET_INVALID", "FILE_REFERENCE_EXPIRED") {
		kind = entity.KindNotFound
	}
	return &entity.AdapterError{Op: op, Kind: kind, Err: err}
}
