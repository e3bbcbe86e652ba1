package entity

import (
	"context"
	"testing"
)

func sampleUser() *User {
	return &User{
		Base:      Base{ID: 7},
		Platform:  "fake",
		FirstName: "Ann",
		LastName:  "Bell",
		Username:  "ann_b",
	}
}

func TestEqualIgnoresNativeRefAndOrigin(t *testing.T) {
	t.Parallel()
	a, b := sampleUser(), sampleUser()
	a.NativeRef = struct{ x int }{1}
	b.NativeRef = "something else entirely"
	b.Origin = &fakeOrigin{}

	if !Equal(a, b) {
		t.Fatalf("users differing only in native ref and origin must be equal")
	}
	if diff := Diff(a, b); len(diff) != 0 {
		t.Fatalf("expected empty diff, got %v", diff)
	}
}

func TestDiffSingleField(t *testing.T) {
	t.Parallel()
	a, b := sampleUser(), sampleUser()
	b.FirstName = "Anna"

	diff := Diff(a, b)
	if len(diff) != 1 {
		t.Fatalf("expected exactly one differing field, got %v", diff)
	}
	pair, ok := diff["FirstName"]
	if !ok {
		t.Fatalf("diff missing FirstName key: %v", diff)
	}
	if pair[0] != "Ann" || pair[1] != "Anna" {
		t.Fatalf("unexpected diff pair: %v", pair)
	}
	if Equal(a, b) {
		t.Fatalf("differing users must not be equal")
	}
}

func TestDiffEmbeddedFieldsFlattened(t *testing.T) {
	t.Parallel()
	a := &Photo{Media: Media{Base: Base{ID: 1}, FileSize: 100, FileName: "x.jpg"}}
	b := &Photo{Media: Media{Base: Base{ID: 1}, FileSize: 200, FileName: "x.jpg"}}

	diff := Diff(a, b)
	if _, ok := diff["FileSize"]; !ok {
		t.Fatalf("embedded media field not flattened into diff: %v", diff)
	}
	if len(diff) != 1 {
		t.Fatalf("expected exactly one differing field, got %v", diff)
	}
}

func TestDiffVariantMismatch(t *testing.T) {
	t.Parallel()
	a := &Photo{Media: Media{Base: Base{ID: 1}}}
	b := &Document{Media: Media{Base: Base{ID: 1}}}

	diff := Diff(a, b)
	if _, ok := diff["type"]; !ok {
		t.Fatalf("variant mismatch must be reported under the type key: %v", diff)
	}
	if Equal(a, b) {
		t.Fatalf("different variants must not be equal")
	}
}

func TestEqualIgnoresCachedPayload(t *testing.T) {
	t.Parallel()
	a := &Photo{Media: Media{Base: Base{ID: 1, NativeRef: []byte("data")}, FileSize: 4}}
	b := &Photo{Media: Media{Base: Base{ID: 1}, FileSize: 4}}

	// Populate a's private payload cache; equality must not see it.
	if _, err := a.Get(context.Background()); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !Equal(a, b) {
		t.Fatalf("cached payload must not affect structural equality")
	}
}

func TestEqualNilHandling(t *testing.T) {
	t.Parallel()
	var a *User
	if !Equal(nil, nil) {
		t.Fatalf("nil == nil")
	}
	if Equal(a, sampleUser()) && a == nil {
		// a is a typed nil pointer; it must not equal a populated user.
		t.Fatalf("nil user must not equal populated user")
	}
}
