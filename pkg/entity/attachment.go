package entity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Attachment is any non-text payload carried by a message.
type Attachment interface {
	Entity
	attachment()
}

// Binary is the subset of attachments that carry a downloadable payload.
type Binary interface {
	Attachment
	Get(ctx context.Context) ([]byte, error)
	Info() *Media
}

// Media holds the attributes shared by binary attachments and implements
// their lazy byte retrieval. The payload is fetched through the origin
// adapter on first Get and cached, so repeated calls return identical
// bytes without further I/O.
type Media struct {
	Base
	FileSize int64
	FileName string

	mu      sync.Mutex
	payload []byte
}

func (m *Media) attachment()  {}
func (m *Media) Info() *Media { return m }

func (m *Media) String() string {
	return fmt.Sprintf("%s (%s)", m.FileName, FormatBytes(m.FileSize))
}

// Get returns the attachment's bytes. A NativeRef that already is a
// resolved []byte is served as-is; anything else goes through the
// origin's Download capability exactly once.
func (m *Media) Get(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payload != nil {
		return m.payload, nil
	}
	if raw, ok := m.NativeRef.([]byte); ok {
		m.payload = raw
		return m.payload, nil
	}
	if m.Origin == nil {
		return nil, ErrNoOrigin
	}
	if m.NativeRef == nil {
		return nil, &AdapterError{Op: "download", Kind: KindNotFound, Err: fmt.Errorf("media %d has no native object", m.ID)}
	}
	data, err := m.Origin.Download(ctx, m.NativeRef)
	if err != nil {
		return nil, err
	}
	m.payload = data
	return m.payload, nil
}

type Photo struct {
	Media
}

type Video struct {
	Media
	Duration float64
}

type Audio struct {
	Media
	Duration float64
}

type Document struct {
	Media
}

type Sticker struct {
	Media
	Alt string
	Set *StickerSet
}

type AnimatedSticker struct {
	Sticker
	Duration float64
}

// Poll is a platform poll. VoterCount is the anonymous total;
// RecentVoters is populated only when the platform discloses voters.
// Solution is non-empty only for quiz polls whose results expose it.
type Poll struct {
	Base
	Question       string
	Answers        []string
	VoterCount     int
	RecentVoters   []*User
	Public         bool
	MultipleChoice bool
	Quiz           bool
	Solution       string
	Closed         bool
	ClosePeriodSec int
	CloseDate      time.Time
}

func (p *Poll) attachment() {}

// GeoPoint is a bare location. Accuracy is meters, 0 when unreported.
type GeoPoint struct {
	Base
	Lat      float64
	Long     float64
	Accuracy int
}

func (g *GeoPoint) attachment() {}

// Venue is a named place. Its ID round-trips the platform's opaque
// venue identifier through lowercase hex (see ParseVenueID).
type Venue struct {
	Base
	Geo     GeoPoint
	Title   string
	Address string
}

func (v *Venue) attachment() {}

type Contact struct {
	Base
	Phone     string
	FirstName string
	LastName  string
	VCard     string
}

func (c *Contact) attachment() {}

// Unsupported is the fallback for attachment kinds the normalizer cannot
// classify. It carries only its native reference, for diagnostics.
type Unsupported struct {
	Base
}

func (u *Unsupported) attachment() {}

// StickerSet wraps a fetched sticker set. The per-sticker documents are
// kept in native form and normalized on demand.
type StickerSet struct {
	Base
	Title string
	Count int

	docs []any
}

// NewStickerSet builds a set over raw per-sticker native documents.
func NewStickerSet(base Base, title string, count int, docs []any) *StickerSet {
	return &StickerSet{Base: base, Title: title, Count: count, docs: docs}
}

// StickerAt normalizes the sticker at index i. The index must be within
// [0, Count); out of range is an error, not a clamp.
func (s *StickerSet) StickerAt(ctx context.Context, i int) (Attachment, error) {
	if i < 0 || i >= s.Count || i >= len(s.docs) {
		return nil, fmt.Errorf("sticker index %d out of range [0, %d)", i, s.Count)
	}
	if s.Origin == nil {
		return nil, ErrNoOrigin
	}
	ent, err := s.Origin.Transform(ctx, s.docs[i])
	if err != nil {
		return nil, err
	}
	switch st := ent.(type) {
	case *AnimatedSticker:
		st.Set = s
		return st, nil
	case *Sticker:
		st.Set = s
		return st, nil
	case Attachment:
		return st, nil
	default:
		return nil, NewNormalizationError(s.docs[i], "sticker set document did not normalize to an attachment")
	}
}

// AllStickers normalizes every document in the set, in order.
func (s *StickerSet) AllStickers(ctx context.Context) ([]Attachment, error) {
	out := make([]Attachment, 0, len(s.docs))
	for i := range s.docs {
		st, err := s.StickerAt(ctx, i)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
