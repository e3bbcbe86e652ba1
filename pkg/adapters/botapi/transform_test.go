package botapi

import (
	"context"
	"errors"
	"testing"

	"github.com/mymmrac/telego"

	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/entity"
)

const testToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11c"

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	events := bus.NewEventBus()
	t.Cleanup(events.Close)
	a, err := NewAdapter(config.BotAPIConfig{Token: testToken}, events)
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	return a
}

func baseMessage() *telego.Message {
	return &telego.Message{
		MessageID: 10,
		Date:      1700000000,
		From:      &telego.User{ID: 3, FirstName: "Bob", Username: "bob_c"},
		Chat:      telego.Chat{ID: 44, Type: telego.ChatTypePrivate, FirstName: "Bob"},
	}
}

func TestTransformTextMessage(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.Text = "hello"
	ent, err := a.Transform(context.Background(), m)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	if msg.ID != 10 || msg.Text != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.From.ID != 3 || msg.From.Platform != platformName {
		t.Fatalf("unexpected sender: %+v", msg.From)
	}
	if msg.Chat.ID != 44 || msg.Chat.Type != entity.ChatPrivate || msg.Chat.Title != "Bob" {
		t.Fatalf("unexpected chat: %+v", msg.Chat)
	}
}

func TestTransformCaptionAsText(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.Caption = "look at this"
	m.Document = &telego.Document{FileID: "doc1", FileName: "notes.txt", FileSize: 9}

	ent, err := a.Transform(context.Background(), m)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	if msg.Text != "look at this" {
		t.Fatalf("caption must become text, got %q", msg.Text)
	}
}

func TestPhotoUsesLargestVariant(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.Photo = []telego.PhotoSize{
		{FileID: "small", FileSize: 100},
		{FileID: "large", FileSize: 9000},
	}
	ent, err := a.Transform(context.Background(), m)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	photo, ok := msg.Attachments[0].(*entity.Photo)
	if !ok {
		t.Fatalf("expected photo, got %T", msg.Attachments[0])
	}
	if photo.FileSize != 9000 {
		t.Fatalf("expected largest variant, got %d", photo.FileSize)
	}
	ref, ok := photo.NativeRef.(fileRef)
	if !ok || ref.FileID != "large" {
		t.Fatalf("photo must reference the largest variant's file id, got %+v", photo.NativeRef)
	}
}

func TestVoiceBecomesAudio(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.Voice = &telego.Voice{FileID: "v1", Duration: 7, FileSize: 321}
	ent, err := a.Transform(context.Background(), m)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	audio, ok := msg.Attachments[0].(*entity.Audio)
	if !ok {
		t.Fatalf("expected audio, got %T", msg.Attachments[0])
	}
	if audio.Duration != 7 || audio.FileName != "voice.ogg" {
		t.Fatalf("unexpected audio: %+v", audio)
	}
}

func TestVideoStickerIsAnimated(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.Sticker = &telego.Sticker{FileID: "s1", Emoji: "🎉", IsVideo: true, FileSize: 512}
	ent, err := a.Transform(context.Background(), m)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	msg := ent.(*entity.Message)
	anim, ok := msg.Attachments[0].(*entity.AnimatedSticker)
	if !ok {
		t.Fatalf("video sticker must be animated, got %T", msg.Attachments[0])
	}
	if anim.Alt != "🎉" || anim.FileName != "sticker.webm" {
		t.Fatalf("unexpected sticker: %+v", anim)
	}
}

func TestStaticSticker(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	ent, err := a.stickerEntity(context.Background(), &telego.Sticker{FileID: "s2", Emoji: "🐱"})
	if err != nil {
		t.Fatalf("stickerEntity failed: %v", err)
	}
	st, ok := ent.(*entity.Sticker)
	if !ok {
		t.Fatalf("expected static sticker, got %T", ent)
	}
	if st.FileName != "sticker.webp" {
		t.Fatalf("unexpected file name: %q", st.FileName)
	}
}

func TestQuizPoll(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	poll := a.pollEntity(&telego.Poll{
		ID:       "123",
		Question: "Capital of France?",
		Options: []telego.PollOption{
			{Text: "Paris", VoterCount: 9},
			{Text: "Lyon", VoterCount: 1},
		},
		TotalVoterCount: 10,
		IsAnonymous:     true,
		Type:            telego.PollTypeQuiz,
		Explanation:     "It is Paris.",
	})
	if poll.ID != 123 || !poll.Quiz || poll.Public {
		t.Fatalf("unexpected poll: %+v", poll)
	}
	if poll.VoterCount != 10 || poll.Solution != "It is Paris." {
		t.Fatalf("unexpected poll details: %+v", poll)
	}
	if len(poll.Answers) != 2 || poll.Answers[0] != "Paris" {
		t.Fatalf("unexpected answers: %v", poll.Answers)
	}
}

func TestChatTypeMapping(t *testing.T) {
	t.Parallel()
	cases := map[string]entity.ChatType{
		telego.ChatTypePrivate:    entity.ChatPrivate,
		telego.ChatTypeGroup:      entity.ChatGroup,
		telego.ChatTypeSupergroup: entity.ChatSupergroup,
		telego.ChatTypeChannel:    entity.ChatChannel,
	}
	for native, want := range cases {
		if got := chatType(native); got != want {
			t.Errorf("chatType(%q) = %q, want %q", native, got, want)
		}
	}
}

func TestMessageWithoutSender(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	m := baseMessage()
	m.From = nil
	_, err := a.Transform(context.Background(), m)
	var nerr *entity.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestTransformUnknownKind(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	_, err := a.Transform(context.Background(), 42)
	var nerr *entity.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}
