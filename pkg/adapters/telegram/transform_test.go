package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"

	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/entity"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	events := bus.NewEventBus()
	t.Cleanup(events.Close)
	a := NewAdapter(config.TelegramConfig{APIID: 1, APIHash: "hash"}, events)
	a.rememberUsers(map[int64]*tg.User{
		7: {ID: 7, AccessHash: 1, FirstName: "Ann", LastName: "Bell", Username: "ann_b"},
	})
	return a
}

func photoMessage(sizes ...tg.PhotoSizeClass) *tg.Message {
	media := &tg.MessageMediaPhoto{}
	media.SetPhoto(&tg.Photo{ID: 1, AccessHash: 2, Sizes: sizes})
	msg := &tg.Message{
		ID:      100,
		Date:    1700000000,
		PeerID:  &tg.PeerUser{UserID: 7},
		Message: "",
	}
	msg.SetMedia(media)
	return msg
}

func TestTransformPhotoMessage(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.Transform(context.Background(), photoMessage(
		&tg.PhotoSize{Type: "s", Size: 1024},
		&tg.PhotoSize{Type: "y", Size: 83784},
		&tg.PhotoSize{Type: "m", Size: 40000},
	))
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg, ok := ent.(*entity.Message)
	if !ok {
		t.Fatalf("expected message, got %T", ent)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(msg.Attachments))
	}
	photo, ok := msg.Attachments[0].(*entity.Photo)
	if !ok {
		t.Fatalf("expected photo, got %T", msg.Attachments[0])
	}
	if photo.FileSize != 83784 {
		t.Fatalf("expected largest variant size 83784, got %d", photo.FileSize)
	}
	if photo.FileName != "image.jpg" {
		t.Fatalf("expected placeholder name image.jpg, got %q", photo.FileName)
	}
}

func TestTransformMessageSenderFromCache(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.Transform(context.Background(), &tg.Message{
		ID:      101,
		Date:    1700000000,
		PeerID:  &tg.PeerUser{UserID: 7},
		Message: "hello",
	})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	if msg.From == nil || msg.From.FirstName != "Ann" || msg.From.ID != 7 {
		t.Fatalf("unexpected sender: %+v", msg.From)
	}
	if msg.Chat == nil || msg.Chat.Type != entity.ChatPrivate || msg.Chat.Title != "Ann" {
		t.Fatalf("unexpected synthetic chat: %+v", msg.Chat)
	}
	if len(msg.Chat.Members) != 1 || msg.Chat.Members[0] != msg.From {
		t.Fatalf("chat members must hold the peer")
	}
	if msg.Text != "hello" {
		t.Fatalf("unexpected text: %q", msg.Text)
	}
}

func TestTransformUser(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.Transform(context.Background(), &tg.User{ID: 9, FirstName: "Kay", Bot: true})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	u := ent.(*entity.User)
	if u.ID != 9 || !u.IsBot || u.Platform != platformName {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestTransformUnknownKind(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	_, err := a.Transform(context.Background(), &tg.UpdateChannel{})
	var nerr *entity.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestUnknownMediaDegradesToUnsupported(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	msg := &tg.Message{ID: 102, Date: 1700000000, PeerID: &tg.PeerUser{UserID: 7}}
	msg.SetMedia(&tg.MessageMediaDice{Value: 4, Emoticon: "🎲"})

	ent, err := a.Transform(context.Background(), msg)
	if err != nil {
		t.Fatalf("unknown media must not fail the message: %v", err)
	}
	out := ent.(*entity.Message)
	if len(out.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(out.Attachments))
	}
	if _, ok := out.Attachments[0].(*entity.Unsupported); !ok {
		t.Fatalf("expected unsupported attachment, got %T", out.Attachments[0])
	}
}

func stickerDoc(attrs ...tg.DocumentAttributeClass) *tg.Document {
	return &tg.Document{ID: 500, AccessHash: 1, Size: 2048, Attributes: attrs}
}

func TestDocumentStickerWithVideoDescriptor(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeSticker{Alt: "😀", Stickerset: &tg.InputStickerSetEmpty{}},
		&tg.DocumentAttributeVideo{Duration: 3},
	))
	if err != nil {
		t.Fatalf("documentEntity failed: %v", err)
	}
	anim, ok := ent.(*entity.AnimatedSticker)
	if !ok {
		t.Fatalf("sticker with video descriptor must be animated, got %T", ent)
	}
	if anim.Duration != 3 {
		t.Fatalf("unexpected duration: %v", anim.Duration)
	}
	if anim.Alt != "😀" {
		t.Fatalf("unexpected alt: %q", anim.Alt)
	}
}

func TestDocumentStaticSticker(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeSticker{Alt: "🐱", Stickerset: &tg.InputStickerSetEmpty{}},
		&tg.DocumentAttributeImageSize{W: 512, H: 512},
	))
	if err != nil {
		t.Fatalf("documentEntity failed: %v", err)
	}
	st, ok := ent.(*entity.Sticker)
	if !ok {
		t.Fatalf("expected static sticker, got %T", ent)
	}
	if st.FileName != "sticker.webp" {
		t.Fatalf("unexpected file name: %q", st.FileName)
	}
}

func TestDocumentStickerWithoutRenderableDescriptor(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeSticker{Alt: "?", Stickerset: &tg.InputStickerSetEmpty{}},
	))
	if err != nil {
		t.Fatalf("malformed sticker must degrade, not fail: %v", err)
	}
	if _, ok := ent.(*entity.Unsupported); !ok {
		t.Fatalf("expected unsupported, got %T", ent)
	}
}

func TestDocumentClassificationPrecedence(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	// Video beats audio when both descriptors are present.
	ent, err := a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeVideo{Duration: 10},
		&tg.DocumentAttributeAudio{Duration: 10},
	))
	if err != nil {
		t.Fatalf("documentEntity failed: %v", err)
	}
	if _, ok := ent.(*entity.Video); !ok {
		t.Fatalf("expected video, got %T", ent)
	}

	ent, err = a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeAudio{Duration: 30},
	))
	if err != nil {
		t.Fatalf("documentEntity failed: %v", err)
	}
	if _, ok := ent.(*entity.Audio); !ok {
		t.Fatalf("expected audio, got %T", ent)
	}
}

func TestDocumentKeepsFilename(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.documentEntity(context.Background(), stickerDoc(
		&tg.DocumentAttributeFilename{FileName: "report.pdf"},
	))
	if err != nil {
		t.Fatalf("documentEntity failed: %v", err)
	}
	doc, ok := ent.(*entity.Document)
	if !ok {
		t.Fatalf("expected document, got %T", ent)
	}
	if doc.FileName != "report.pdf" || doc.FileSize != 2048 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestVenueHexID(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	geo := &tg.GeoPoint{Lat: 52.52, Long: 13.4}
	att, err := a.venueEntity(&tg.MessageMediaVenue{
		Geo:     geo,
		Title:   "Cafe",
		Address: "Main St 1",
		VenueID: "1f3a",
	})
	if err != nil {
		t.Fatalf("venueEntity failed: %v", err)
	}
	venue := att.(*entity.Venue)
	if venue.ID != 0x1f3a {
		t.Fatalf("expected parsed hex id, got %d", venue.ID)
	}
	if venue.Geo.Lat != 52.52 || venue.Geo.Long != 13.4 {
		t.Fatalf("unexpected geo: %+v", venue.Geo)
	}
	if entity.FormatVenueID(venue.ID) != "1f3a" {
		t.Fatalf("venue id must round-trip to hex")
	}
}

func TestVenueRejectsNonHexID(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	_, err := a.venueEntity(&tg.MessageMediaVenue{VenueID: "not-hex"})
	var nerr *entity.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestPollNormalization(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	results := tg.PollResults{}
	results.SetTotalVoters(12)
	mm := &tg.MessageMediaPoll{
		Poll: tg.Poll{
			ID:       5,
			Question: tg.TextWithEntities{Text: "Tea or coffee?"},
			Answers: []tg.PollAnswer{
				{Text: tg.TextWithEntities{Text: "Tea"}},
				{Text: tg.TextWithEntities{Text: "Coffee"}},
			},
			PublicVoters: true,
		},
		Results: results,
	}

	att, err := a.pollEntity(context.Background(), mm)
	if err != nil {
		t.Fatalf("pollEntity failed: %v", err)
	}
	poll := att.(*entity.Poll)
	if poll.Question != "Tea or coffee?" {
		t.Fatalf("unexpected question: %q", poll.Question)
	}
	if len(poll.Answers) != 2 || poll.Answers[1] != "Coffee" {
		t.Fatalf("unexpected answers: %v", poll.Answers)
	}
	if poll.VoterCount != 12 || !poll.Public {
		t.Fatalf("unexpected poll: %+v", poll)
	}
}

func TestContactNormalization(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	contact := a.contactEntity(&tg.MessageMediaContact{
		PhoneNumber: "+100200300",
		FirstName:   "Kay",
		UserID:      77,
	})
	if contact.ID != 77 || contact.Phone != "+100200300" || contact.FirstName != "Kay" {
		t.Fatalf("unexpected contact: %+v", contact)
	}
}

func TestGeoWithoutPoint(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	_, err := a.geoEntity(&tg.MessageMediaGeo{Geo: &tg.GeoPointEmpty{}})
	var nerr *entity.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestWrapRPCKinds(t *testing.T) {
	t.Parallel()
	err := wrapRPC("op", errors.New("connection reset"))
	if !errors.Is(err, entity.ErrTransport) {
		t.Fatalf("plain errors must classify as transport, got %v", err)
	}
}
