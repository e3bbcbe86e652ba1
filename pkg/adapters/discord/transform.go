package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

// Transform maps a native Discord object onto the canonical model.
func (a *Adapter) Transform(ctx context.Context, native any) (entity.Entity, error) {
	switch v := native.(type) {
	case *discordgo.Message:
		return a.messageEntity(v)
	case *discordgo.User:
		return a.userEntity(v)
	default:
		return nil, entity.NewNormalizationError(native, "no canonical mapping for this kind")
	}
}

func (a *Adapter) userEntity(u *discordgo.User) (*entity.User, error) {
	id, err := parseSnowflake(u.ID)
	if err != nil {
		return nil, entity.NewNormalizationError(u, "user id is not a snowflake: "+u.ID)
	}
	first := u.GlobalName
	if first == "" {
		first = u.Username
	}
	return &entity.User{
		Base:      entity.Base{ID: id, NativeRef: u, Origin: a},
		Platform:  platformName,
		FirstName: first,
		Username:  u.Username,
		IsBot:     u.Bot,
	}, nil
}

func (a *Adapter) messageEntity(m *discordgo.Message) (entity.Entity, error) {
	if m.Author == nil {
		return nil, entity.NewNormalizationError(m, "message without author")
	}
	id, err := parseSnowflake(m.ID)
	if err != nil {
		return nil, entity.NewNormalizationError(m, "message id is not a snowflake: "+m.ID)
	}
	channelID, err := parseSnowflake(m.ChannelID)
	if err != nil {
		return nil, entity.NewNormalizationError(m, "channel id is not a snowflake: "+m.ChannelID)
	}
	sender, err := a.userEntity(m.Author)
	if err != nil {
		return nil, err
	}

	chat := &entity.Chat{
		Base:     entity.Base{ID: channelID, NativeRef: m, Origin: a},
		Platform: platformName,
		Type:     entity.ChatPrivate,
		Title:    sender.FirstName,
		Members:  []*entity.User{sender},
	}
	if m.GuildID != "" {
		chat.Type = entity.ChatGroup
		if ch, err := a.session.State.Channel(m.ChannelID); err == nil {
			chat.Title = ch.Name
		}
	}

	var attachments []entity.Attachment
	for _, att := range m.Attachments {
		attachments = append(attachments, a.attachmentEntity(att))
	}

	date := m.Timestamp
	if date.IsZero() {
		date = time.Now()
	}

	return &entity.Message{
		Base:        entity.Base{ID: id, NativeRef: m, Origin: a},
		From:        sender,
		Chat:        chat,
		Date:        date,
		Text:        m.Content,
		Attachments: attachments,
	}, nil
}

// attachmentEntity classifies an upload by its content type. Discord
// attachments are plain CDN files, so everything is binary media here.
func (a *Adapter) attachmentEntity(att *discordgo.MessageAttachment) entity.Attachment {
	id, err := parseSnowflake(att.ID)
	if err != nil {
		logger.WarnCF(platformName, "Attachment id is not a snowflake", map[string]interface{}{
			logger.FieldNative: att.ID,
		})
	}
	media := entity.Media{
		Base:     entity.Base{ID: id, NativeRef: att, Origin: a},
		FileSize: int64(att.Size),
		FileName: att.Filename,
	}
	switch {
	case strings.HasPrefix(att.ContentType, "image/"):
		return &entity.Photo{Media: media}
	case strings.HasPrefix(att.ContentType, "video/"):
		return &entity.Video{Media: media}
	case strings.HasPrefix(att.ContentType, "audio/"):
		return &entity.Audio{Media: media}
	default:
		return &entity.Document{Media: media}
	}
}
