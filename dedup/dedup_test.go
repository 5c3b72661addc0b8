package dedup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"realty-notifier/pkg/realty"
)

func f(v float64) *float64 { return &v }

// TestFingerprintStable verifies listings that differ only in formatting,
// casing or source identity share a fingerprint.
func TestFingerprintStable(t *testing.T) {
	base := realty.Listing{
		ID:          "yad2-123",
		Source:      "yad2",
		Title:       "דירת 3 חדרים בדיזנגוף",
		Description: "דירה משופצת עם מרפסת!",
		Price:       f(7500),
		Rooms:       f(3),
		Location:    "תל אביב, דיזנגוף",
	}

	tests := []struct {
		name   string
		mutate func(l *realty.Listing)
	}{
		{
			name:   "different source id",
			mutate: func(l *realty.Listing) { l.ID = "facebook-987"; l.Source = "facebook" },
		},
		{
			name:   "different url",
			mutate: func(l *realty.Listing) { l.URL = "https://example.com/other" },
		},
		{
			name:   "casing and punctuation noise",
			mutate: func(l *realty.Listing) { l.Description = "דירה משופצת עם מרפסת???" },
		},
		{
			name:   "synonym spelling of title",
			mutate: func(l *realty.Listing) { l.Title = "דירה 3 חדר בדיזנגוף" },
		},
		{
			name:   "extra whitespace",
			mutate: func(l *realty.Listing) { l.Location = "  תל אביב,   דיזנגוף " },
		},
	}

	want := Fingerprint(&base)
	if len(want) != 64 {
		t.Fatalf("Fingerprint() length = %d, want 64 hex chars", len(want))
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base
			tt.mutate(&l)
			if got := Fingerprint(&l); got != want {
				t.Errorf("Fingerprint() = %s, want %s (variants should collide)", got, want)
			}
		})
	}
}

// TestFingerprintDistinct verifies material differences produce different
// fingerprints.
func TestFingerprintDistinct(t *testing.T) {
	base := realty.Listing{
		Title:    "דירת 3 חדרים",
		Price:    f(7500),
		Rooms:    f(3),
		Location: "תל אביב",
	}

	tests := []struct {
		name   string
		mutate func(l *realty.Listing)
	}{
		{
			name:   "different price",
			mutate: func(l *realty.Listing) { l.Price = f(8000) },
		},
		{
			name:   "different rooms",
			mutate: func(l *realty.Listing) { l.Rooms = f(4) },
		},
		{
			name:   "different location",
			mutate: func(l *realty.Listing) { l.Location = "חיפה" },
		},
		{
			name:   "different title",
			mutate: func(l *realty.Listing) { l.Title = "פנטהאוז מדהים" },
		},
	}

	want := Fingerprint(&base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base
			tt.mutate(&l)
			if got := Fingerprint(&l); got == want {
				t.Errorf("Fingerprint() collided for %s", tt.name)
			}
		})
	}
}

// TestFingerprintAbsentNumbers verifies a missing price or room count
// encodes the same as zero.
func TestFingerprintAbsentNumbers(t *testing.T) {
	missing := realty.Listing{Title: "דירה", Location: "תל אביב"}
	zero := realty.Listing{Title: "דירה", Location: "תל אביב", Price: f(0), Rooms: f(0)}

	if Fingerprint(&missing) != Fingerprint(&zero) {
		t.Error("absent price/rooms should fingerprint like zero")
	}
}

// TestFingerprintLongHebrewText verifies prefix truncation counts runes so
// multibyte Hebrew text never splits mid-rune.
func TestFingerprintLongHebrewText(t *testing.T) {
	l := realty.Listing{
		Title:       strings.Repeat("דירה מדהימה ", 30),
		Description: strings.Repeat("מרפסת ענקית עם נוף ", 40),
		Location:    strings.Repeat("תל אביב ", 20),
	}
	got := Fingerprint(&l)
	if len(got) != 64 {
		t.Fatalf("Fingerprint() length = %d, want 64", len(got))
	}

	// Appending beyond the truncation window must not change the result.
	extended := l
	extended.Description += " עוד טקסט שאינו נכנס לחלון"
	if Fingerprint(&extended) != got {
		t.Error("text beyond the truncation window changed the fingerprint")
	}
}

type fakeStore struct {
	seen    map[string]bool
	marked  []string
	isErr   error
	markErr error
}

func (s *fakeStore) IsSeen(_ context.Context, fp string) (bool, error) {
	if s.isErr != nil {
		return false, s.isErr
	}
	return s.seen[fp], nil
}

func (s *fakeStore) MarkSeen(_ context.Context, fp string, _ *realty.Listing) error {
	if s.markErr != nil {
		return s.markErr
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[fp] = true
	s.marked = append(s.marked, fp)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestDeduplicatorRoundTrip verifies unseen then seen after marking.
func TestDeduplicatorRoundTrip(t *testing.T) {
	store := &fakeStore{}
	d := New(store, testLogger())
	ctx := context.Background()

	l := realty.Listing{Title: "דירת 3 חדרים", Location: "תל אביב", Price: f(7000)}
	fp := Fingerprint(&l)

	seen, err := d.IsSeen(ctx, fp)
	if err != nil {
		t.Fatalf("IsSeen() error = %v", err)
	}
	if seen {
		t.Fatal("IsSeen() = true before marking")
	}

	if err := d.MarkSeen(ctx, fp, &l); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	seen, err = d.IsSeen(ctx, fp)
	if err != nil {
		t.Fatalf("IsSeen() error = %v", err)
	}
	if !seen {
		t.Error("IsSeen() = false after marking")
	}
}

// TestDeduplicatorStoreError verifies store failures surface to the caller.
func TestDeduplicatorStoreError(t *testing.T) {
	wantErr := errors.New("store offline")
	d := New(&fakeStore{isErr: wantErr}, testLogger())

	_, err := d.IsSeen(context.Background(), "abc")
	if !errors.Is(err, wantErr) {
		t.Errorf("IsSeen() error = %v, want %v", err, wantErr)
	}
}
