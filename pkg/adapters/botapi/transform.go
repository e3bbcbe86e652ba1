package botapi

import (
	"context"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

// Transform maps a native Bot API object onto the canonical model.
func (a *Adapter) Transform(ctx context.Context, native any) (entity.Entity, error) {
	switch v := native.(type) {
	case *telego.Message:
		return a.messageEntity(ctx, v)
	case *telego.User:
		return a.userEntity(v), nil
	case *telego.Sticker:
		return a.stickerEntity(ctx, v)
	default:
		return nil, entity.NewNormalizationError(native, "no canonical mapping for this kind")
	}
}

func (a *Adapter) userEntity(u *telego.User) *entity.User {
	return &entity.User{
		Base:      entity.Base{ID: u.ID, NativeRef: u, Origin: a},
		Platform:  platformName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
	}
}

func chatType(t string) entity.ChatType {
	switch t {
	case telego.ChatTypeGroup:
		return entity.ChatGroup
	case telego.ChatTypeSupergroup:
		return entity.ChatSupergroup
	case telego.ChatTypeChannel:
		return entity.ChatChannel
	default:
		return entity.ChatPrivate
	}
}

func (a *Adapter) messageEntity(ctx context.Context, m *telego.Message) (entity.Entity, error) {
	if m.From == nil {
		return nil, entity.NewNormalizationError(m, "message without sender")
	}
	sender := a.userEntity(m.From)

	title := m.Chat.Title
	if title == "" {
		title = m.Chat.FirstName
	}
	chat := &entity.Chat{
		Base:     entity.Base{ID: m.Chat.ID, NativeRef: &m.Chat, Origin: a},
		Platform: platformName,
		Type:     chatType(m.Chat.Type),
		Title:    title,
		Members:  []*entity.User{sender},
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	attachments, err := a.attachments(ctx, m)
	if err != nil {
		return nil, err
	}

	return &entity.Message{
		Base:        entity.Base{ID: int64(m.MessageID), NativeRef: m, Origin: a},
		From:        sender,
		Chat:        chat,
		Date:        time.Unix(int64(m.Date), 0),
		Text:        text,
		Attachments: attachments,
	}, nil
}

// attachments collects every media payload the message carries. The Bot
// API pre-classifies media into typed fields, so there is no unknown
// top-level media kind here.
func (a *Adapter) attachments(ctx context.Context, m *telego.Message) ([]entity.Attachment, error) {
	var out []entity.Attachment
	msgID := int64(m.MessageID)

	if len(m.Photo) > 0 {
		// Variants are ordered smallest to largest; the last one is the
		// full-size photo.
		best := m.Photo[len(m.Photo)-1]
		out = append(out, &entity.Photo{Media: entity.Media{
			Base:     entity.Base{ID: msgID, NativeRef: fileRef{FileID: best.FileID}, Origin: a},
			FileSize: int64(best.FileSize),
			FileName: "image.jpg",
		}})
	}
	if m.Document != nil {
		out = append(out, &entity.Document{Media: entity.Media{
			Base:     entity.Base{ID: msgID, NativeRef: fileRef{FileID: m.Document.FileID}, Origin: a},
			FileSize: int64(m.Document.FileSize),
			FileName: m.Document.FileName,
		}})
	}
	if m.Audio != nil {
		name := m.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		out = append(out, &entity.Audio{
			Media: entity.Media{
				Base:     entity.Base{ID: msgID, NativeRef: fileRef{FileID: m.Audio.FileID}, Origin: a},
				FileSize: int64(m.Audio.FileSize),
				FileName: name,
			},
			Duration: float64(m.Audio.Duration),
		})
	}
	if m.Voice != nil {
		out = append(out, &entity.Audio{
			Media: entity.Media{
				Base:     entity.Base{ID: msgID, NativeRef: fileRef{FileID: m.Voice.FileID}, Origin: a},
				FileSize: int64(m.Voice.FileSize),
				FileName: "voice.ogg",
			},
			Duration: float64(m.Voice.Duration),
		})
	}
	if m.Video != nil {
		name := m.Video.FileName
		if name == "" {
			name = "video.mp4"
		}
		out = append(out, &entity.Video{
			Media: entity.Media{
				Base:     entity.Base{ID: msgID, NativeRef: fileRef{FileID: m.Video.FileID}, Origin: a},
				FileSize: int64(m.Video.FileSize),
				FileName: name,
			},
			Duration: float64(m.Video.Duration),
		})
	}
	if m.Sticker != nil {
		st, err := a.stickerEntity(ctx, m.Sticker)
		if err != nil {
			return nil, err
		}
		if att, ok := st.(entity.Attachment); ok {
			out = append(out, att)
		}
	}
	if m.Contact != nil {
		out = append(out, &entity.Contact{
			Base:      entity.Base{ID: m.Contact.UserID, NativeRef: m.Contact, Origin: a},
			Phone:     m.Contact.PhoneNumber,
			FirstName: m.Contact.FirstName,
			LastName:  m.Contact.LastName,
			VCard:     m.Contact.Vcard,
		})
	}
	if m.Venue != nil {
		out = append(out, &entity.Venue{
			Base:    entity.Base{NativeRef: m.Venue, Origin: a},
			Geo:     locationPoint(m.Venue.Location),
			Title:   m.Venue.Title,
			Address: m.Venue.Address,
		})
	} else if m.Location != nil {
		point := locationPoint(*m.Location)
		point.NativeRef = m.Location
		point.Origin = a
		out = append(out, &point)
	}
	if m.Poll != nil {
		out = append(out, a.pollEntity(m.Poll))
	}
	return out, nil
}

func locationPoint(loc telego.Location) entity.GeoPoint {
	return entity.GeoPoint{
		Lat:      float64(loc.Latitude),
		Long:     float64(loc.Longitude),
		Accuracy: int(loc.HorizontalAccuracy),
	}
}

func (a *Adapter) pollEntity(p *telego.Poll) *entity.Poll {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		logger.WarnCF(platformName, "Poll id is not numeric", map[string]interface{}{
			logger.FieldNative: p.ID,
		})
	}
	answers := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		answers = append(answers, opt.Text)
	}
	poll := &entity.Poll{
		Base:           entity.Base{ID: id, NativeRef: p, Origin: a},
		Question:       p.Question,
		Answers:        answers,
		VoterCount:     int(p.TotalVoterCount),
		Public:         !p.IsAnonymous,
		MultipleChoice: p.AllowsMultipleAnswers,
		Quiz:           p.Type == telego.PollTypeQuiz,
		Solution:       p.Explanation,
		Closed:         p.IsClosed,
		ClosePeriodSec: int(p.OpenPeriod),
	}
	if p.CloseDate > 0 {
		poll.CloseDate = time.Unix(int64(p.CloseDate), 0)
	}
	return poll
}

// stickerEntity classifies a sticker as animated or static and hangs
// its set off it when one is named.
func (a *Adapter) stickerEntity(ctx context.Context, s *telego.Sticker) (entity.Entity, error) {
	set, err := a.resolveStickerSet(ctx, s.SetName)
	if err != nil {
		return nil, err
	}

	media := entity.Media{
		Base:     entity.Base{NativeRef: fileRef{FileID: s.FileID}, Origin: a},
		FileSize: int64(s.FileSize),
	}
	if s.IsVideo || s.IsAnimated {
		media.FileName = "sticker.webm"
		return &entity.AnimatedSticker{
			Sticker: entity.Sticker{Media: media, Alt: s.Emoji, Set: set},
		}, nil
	}
	media.FileName = "sticker.webp"
	return &entity.Sticker{Media: media, Alt: s.Emoji, Set: set}, nil
}

// resolveStickerSet fetches a named set once and memoizes it. The Bot
// API addresses sets by name, not id, so the set's entity id stays zero.
func (a *Adapter) resolveStickerSet(ctx context.Context, name string) (*entity.StickerSet, error) {
	if name == "" {
		return nil, nil
	}
	a.mu.RLock()
	cached := a.sets[name]
	a.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	full, err := a.bot.GetStickerSet(ctx, &telego.GetStickerSetParams{Name: name})
	if err != nil {
		return nil, wrapAPI("getStickerSet", err)
	}
	docs := make([]any, 0, len(full.Stickers))
	for i := range full.Stickers {
		docs = append(docs, &full.Stickers[i])
	}
	set := entity.NewStickerSet(
		entity.Base{NativeRef: full, Origin: a},
		full.Title,
		len(full.Stickers),
		docs,
	)

	a.mu.Lock()
	a.sets[name] = set
	a.mu.Unlock()
	return set, nil
}
