package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tg"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

// Transform maps a native Telegram object onto the canonical entity
// model. Unknown top-level kinds are a normalization error; unknown
// attachment payloads inside a message degrade to Unsupported with a
// warning instead of failing the whole message.
func (a *Adapter) Transform(ctx context.Context, native any) (entity.Entity, error) {
	switch v := native.(type) {
	case *tg.PeerUser:
		resolved, err := a.FetchEntity(ctx, v.UserID)
		if err != nil {
			return nil, err
		}
		// One resolution hop only. A reference that resolves to yet
		// another reference would recurse forever.
		if _, again := resolved.(tg.PeerClass); again {
			return nil, entity.NewNormalizationError(resolved, "peer reference resolved to another reference")
		}
		return a.Transform(ctx, resolved)
	case *tg.User:
		return a.userEntity(v), nil
	case *tg.Message:
		return a.messageEntity(ctx, v)
	case *tg.Document:
		return a.documentEntity(ctx, v)
	case *tg.InputStickerSetID:
		return a.stickerSetEntity(ctx, v)
	default:
		return nil, entity.NewNormalizationError(native, "no canonical mapping for this kind")
	}
}

func (a *Adapter) userEntity(u *tg.User) *entity.User {
	return &entity.User{
		Base:      entity.Base{ID: u.ID, NativeRef: u, Origin: a},
		Platform:  platformName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.Bot,
	}
}

func (a *Adapter) messageEntity(ctx context.Context, m *tg.Message) (entity.Entity, error) {
	var attachments []entity.Attachment
	if media, ok := m.GetMedia(); ok {
		att, err := a.attachmentEntity(ctx, media)
		if err != nil {
			var nerr *entity.NormalizationError
			if !errors.As(err, &nerr) {
				return nil, err
			}
			logger.WarnCF(platformName, "Unclassifiable media payload", map[string]interface{}{
				logger.FieldNative: nerr.NativeKind,
				logger.FieldError:  nerr.Reason,
			})
			att = &entity.Unsupported{Base: entity.Base{ID: int64(m.ID), NativeRef: media, Origin: a}}
		}
		attachments = append(attachments, att)
	}

	fromPeer, ok := m.GetFromID()
	if !ok {
		fromPeer = m.PeerID
	}
	peerUser, ok := fromPeer.(*tg.PeerUser)
	if !ok {
		return nil, entity.NewNormalizationError(fromPeer, "sender is not a user")
	}
	senderEnt, err := a.Transform(ctx, peerUser)
	if err != nil {
		return nil, err
	}
	sender, ok := senderEnt.(*entity.User)
	if !ok {
		return nil, entity.NewNormalizationError(senderEnt, "sender did not normalize to a user")
	}

	// Private chats carry no chat object of their own on this transport;
	// synthesize one from the counterpart.
	chat := &entity.Chat{
		Base:     entity.Base{ID: sender.ID, NativeRef: m, Origin: a},
		Platform: platformName,
		Type:     entity.ChatPrivate,
		Title:    sender.FirstName,
		Members:  []*entity.User{sender},
	}

	return &entity.Message{
		Base:        entity.Base{ID: int64(m.ID), NativeRef: m, Origin: a},
		From:        sender,
		Chat:        chat,
		Date:        time.Unix(int64(m.Date), 0),
		Text:        m.Message,
		Attachments: attachments,
	}, nil
}

func (a *Adapter) attachmentEntity(ctx context.Context, media tg.MessageMediaClass) (entity.Attachment, error) {
	switch mm := media.(type) {
	case *tg.MessageMediaPhoto:
		photoClass, ok := mm.GetPhoto()
		if !ok {
			return nil, entity.NewNormalizationError(mm, "photo media without photo payload")
		}
		photo, ok := photoClass.(*tg.Photo)
		if !ok {
			return nil, entity.NewNormalizationError(photoClass, "empty photo payload")
		}
		return &entity.Photo{Media: entity.Media{
			Base:     entity.Base{ID: photo.ID, NativeRef: mm, Origin: a},
			FileSize: maxPhotoSize(photo.Sizes),
			FileName: "image.jpg",
		}}, nil
	case *tg.MessageMediaDocument:
		docClass, ok := mm.GetDocument()
		if !ok {
			return nil, entity.NewNormalizationError(mm, "document media without document payload")
		}
		doc, ok := docClass.(*tg.Document)
		if !ok {
			return nil, entity.NewNormalizationError(docClass, "empty document payload")
		}
		ent, err := a.documentEntity(ctx, doc)
		if err != nil {
			return nil, err
		}
		att, ok := ent.(entity.Attachment)
		if !ok {
			return nil, entity.NewNormalizationError(ent, "document did not normalize to an attachment")
		}
		return att, nil
	case *tg.MessageMediaPoll:
		return a.pollEntity(ctx, mm)
	case *tg.MessageMediaGeo:
		return a.geoEntity(mm)
	case *tg.MessageMediaVenue:
		return a.venueEntity(mm)
	case *tg.MessageMediaContact:
		return a.contactEntity(mm), nil
	default:
		return nil, entity.NewNormalizationError(media, "unclassifiable attachment kind")
	}
}

// maxPhotoSize picks the byte size of the largest stored variant.
// Progressive sizes list cumulative byte counts; the last one is the
// full download size.
func maxPhotoSize(sizes []tg.PhotoSizeClass) int64 {
	max := 0
	for _, s := range sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if int(sz.Size) > max {
				max = int(sz.Size)
			}
		case *tg.PhotoSizeProgressive:
			for _, n := range sz.Sizes {
				if int(n) > max {
					max = int(n)
				}
			}
		case *tg.PhotoCachedSize:
			if len(sz.Bytes) > max {
				max = len(sz.Bytes)
			}
		case *tg.PhotoStrippedSize:
			if len(sz.Bytes) > max {
				max = len(sz.Bytes)
			}
		}
	}
	return int64(max)
}

// documentEntity classifies a document by its attribute descriptors.
// Sticker wins over video wins over audio; anything else stays a plain
// document. A sticker descriptor with neither an image nor a video
// descriptor is malformed and degrades to Unsupported.
func (a *Adapter) documentEntity(ctx context.Context, doc *tg.Document) (entity.Entity, error) {
	var (
		stickerAttr *tg.DocumentAttributeSticker
		audioAttr   *tg.DocumentAttributeAudio
		videoAttr   *tg.DocumentAttributeVideo
		imageAttr   *tg.DocumentAttributeImageSize
		fileName    string
	)
	for _, attr := range doc.Attributes {
		switch at := attr.(type) {
		case *tg.DocumentAttributeSticker:
			stickerAttr = at
		case *tg.DocumentAttributeAudio:
			audioAttr = at
		case *tg.DocumentAttributeVideo:
			videoAttr = at
		case *tg.DocumentAttributeImageSize:
			imageAttr = at
		case *tg.DocumentAttributeFilename:
			fileName = at.FileName
		}
	}

	base := entity.Base{ID: doc.ID, NativeRef: doc, Origin: a}
	media := entity.Media{
		Base:     base,
		FileSize: int64(doc.Size),
		FileName: fileName,
	}

	switch {
	case stickerAttr != nil:
		set, err := a.resolveStickerSet(ctx, stickerAttr.Stickerset)
		if err != nil {
			return nil, err
		}
		switch {
		case videoAttr != nil:
			if media.FileName == "" {
				media.FileName = "sticker.webm"
			}
			return &entity.AnimatedSticker{
				Sticker:  entity.Sticker{Media: media, Alt: stickerAttr.Alt, Set: set},
				Duration: float64(videoAttr.Duration),
			}, nil
		case imageAttr != nil:
			if media.FileName == "" {
				media.FileName = "sticker.webp"
			}
			return &entity.Sticker{Media: media, Alt: stickerAttr.Alt, Set: set}, nil
		default:
			logger.WarnCF(platformName, "Sticker document without image or video descriptor", map[string]interface{}{
				logger.FieldNative: doc.ID,
			})
			return &entity.Unsupported{Base: base}, nil
		}
	case videoAttr != nil:
		if media.FileName == "" {
			media.FileName = "video.mp4"
		}
		return &entity.Video{Media: media, Duration: float64(videoAttr.Duration)}, nil
	case audioAttr != nil:
		if media.FileName == "" {
			media.FileName = "audio.ogg"
		}
		return &entity.Audio{Media: media, Duration: float64(audioAttr.Duration)}, nil
	default:
		return &entity.Document{Media: media}, nil
	}
}

func (a *Adapter) resolveStickerSet(ctx context.Context, ref tg.InputStickerSetClass) (*entity.StickerSet, error) {
	id, ok := ref.(*tg.InputStickerSetID)
	if !ok {
		return nil, nil
	}
	ent, err := a.stickerSetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	set, _ := ent.(*entity.StickerSet)
	return set, nil
}

// stickerSetEntity fetches a sticker set, memoized by id so stickers
// resolved out of a set do not refetch the set they came from.
func (a *Adapter) stickerSetEntity(ctx context.Context, ref *tg.InputStickerSetID) (entity.Entity, error) {
	a.mu.RLock()
	cached := a.sets[ref.ID]
	a.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	res, err := a.api.MessagesGetStickerSet(ctx, &tg.MessagesGetStickerSetRequest{
		Stickerset: ref,
		Hash:       0,
	})
	if err != nil {
		return nil, wrapRPC("messages.getStickerSet", err)
	}
	full, ok := res.(*tg.MessagesStickerSet)
	if !ok {
		return nil, entity.NewNormalizationError(res, "unexpected sticker set result")
	}

	docs := make([]any, 0, len(full.Documents))
	for _, dc := range full.Documents {
		if d, ok := dc.(*tg.Document); ok {
			docs = append(docs, d)
		}
	}
	set := entity.NewStickerSet(
		entity.Base{ID: full.Set.ID, NativeRef: full, Origin: a},
		full.Set.Title,
		int(full.Set.Count),
		docs,
	)

	a.mu.Lock()
	a.sets[ref.ID] = set
	a.mu.Unlock()
	return set, nil
}

func (a *Adapter) pollEntity(ctx context.Context, mm *tg.MessageMediaPoll) (entity.Attachment, error) {
	p := mm.Poll
	answers := make([]string, 0, len(p.Answers))
	for _, ans := range p.Answers {
		answers = append(answers, ans.Text.Text)
	}
	poll := &entity.Poll{
		Base:           entity.Base{ID: p.ID, NativeRef: mm, Origin: a},
		Question:       p.Question.Text,
		Answers:        answers,
		Public:         p.PublicVoters,
		MultipleChoice: p.MultipleChoice,
		Quiz:           p.Quiz,
		Closed:         p.Closed,
		ClosePeriodSec: int(p.ClosePeriod),
	}
	if p.CloseDate > 0 {
		poll.CloseDate = time.Unix(int64(p.CloseDate), 0)
	}

	results := mm.Results
	if total, ok := results.GetTotalVoters(); ok {
		poll.VoterCount = int(total)
	}
	if recent, ok := results.GetRecentVoters(); ok {
		for _, peer := range recent {
			pu, ok := peer.(*tg.PeerUser)
			if !ok {
				continue
			}
			ent, err := a.Transform(ctx, pu)
			if err != nil {
				return nil, err
			}
			if voter, ok := ent.(*entity.User); ok {
				poll.RecentVoters = append(poll.RecentVoters, voter)
			}
		}
	}
	if p.Quiz {
		if solution, ok := results.GetSolution(); ok {
			poll.Solution = solution
		}
	}
	return poll, nil
}

func (a *Adapter) geoEntity(mm *tg.MessageMediaGeo) (entity.Attachment, error) {
	gp, ok := mm.Geo.(*tg.GeoPoint)
	if !ok {
		return nil, entity.NewNormalizationError(mm.Geo, "empty geo point")
	}
	point := &entity.GeoPoint{
		Base: entity.Base{NativeRef: mm, Origin: a},
		Lat:  float64(gp.Lat),
		Long: float64(gp.Long),
	}
	if acc, ok := gp.GetAccuracyRadius(); ok {
		point.Accuracy = int(acc)
	}
	return point, nil
}

// venueEntity parses the provider venue id, which is hexadecimal on
// this transport, into the numeric entity id.
func (a *Adapter) venueEntity(mm *tg.MessageMediaVenue) (entity.Attachment, error) {
	id, err := entity.ParseVenueID(mm.VenueID)
	if err != nil {
		return nil, entity.NewNormalizationError(mm, "venue id is not hexadecimal: "+mm.VenueID)
	}
	venue := &entity.Venue{
		Base:    entity.Base{ID: id, NativeRef: mm, Origin: a},
		Title:   mm.Title,
		Address: mm.Address,
	}
	if gp, ok := mm.Geo.(*tg.GeoPoint); ok {
		venue.Geo = entity.GeoPoint{Lat: float64(gp.Lat), Long: float64(gp.Long)}
		if acc, ok := gp.GetAccuracyRadius(); ok {
			venue.Geo.Accuracy = int(acc)
		}
	}
	return venue, nil
}

func (a *Adapter) contactEntity(mm *tg.MessageMediaContact) *entity.Contact {
	return &entity.Contact{
		Base:      entity.Base{ID: mm.UserID, NativeRef: mm, Origin: a},
		Phone:     mm.PhoneNumber,
		FirstName: mm.FirstName,
		LastName:  mm.LastName,
		VCard:     mm.Vcard,
	}
}

// largestPhotoSizeType mirrors maxPhotoSize but returns the thumb type
// identifier, which the file location needs to address the variant.
func largestPhotoSizeType(sizes []tg.PhotoSizeClass) string {
	best := ""
	max := -1
	for _, s := range sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if int(sz.Size) > max {
				max, best = int(sz.Size), sz.Type
			}
		case *tg.PhotoSizeProgressive:
			for _, n := range sz.Sizes {
				if int(n) > max {
					max, best = int(n), sz.Type
				}
			}
		case *tg.PhotoCachedSize:
			if len(sz.Bytes) > max {
				max, best = len(sz.Bytes), sz.Type
			}
		}
	}
	return best
}
