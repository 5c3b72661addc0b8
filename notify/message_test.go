package notify

import (
	"strings"
	"testing"

	"realty-notifier/pkg/realty"
)

func floatPtr(v float64) *float64 { return &v }

// TestBuildMessage verifies a matched listing renders into a complete
// notification with title, body lines and metadata.
func TestBuildMessage(t *testing.T) {
	listing := &realty.Listing{
		ID:          "yad2-8842",
		Source:      "yad2",
		Title:       "דירת 2 חדרים בדיזנגוף",
		Description: "דירה משופצת עם מרפסת שמש",
		Price:       floatPtr(5800),
		Rooms:       floatPtr(2),
		Location:    "דיזנגוף, תל אביב",
		URL:         "https://example.com/listing/8842",
		ImageURL:    "https://example.com/img/8842.jpg",
	}
	result := realty.MatchResult{
		Score:      87.5,
		Confidence: realty.ConfidenceHigh,
		Reasons:    []string{"price within budget", "2 rooms requested", "city matches"},
	}

	msg := BuildMessage(listing, result)

	if msg.Title != "🔥 דירת 2 חדרים בדיזנגוף" {
		t.Errorf("Expected high confidence title, got %q", msg.Title)
	}
	for _, want := range []string{
		"💰 Price: 5,800 ILS/month",
		"🛏️ Rooms: 2 rooms",
		"📍 Location: דיזנגוף, תל אביב",
		"🎯 Match Score: 87.5/100 (HIGH CONFIDENCE)",
		"דירה משופצת עם מרפסת שמש",
		"✨ Why this matches:",
		"• price within budget",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("Expected body to contain %q, got:\n%s", want, msg.Body)
		}
	}
	if msg.URL != listing.URL {
		t.Errorf("Expected URL %q, got %q", listing.URL, msg.URL)
	}
	if msg.ImageURL != listing.ImageURL {
		t.Errorf("Expected image URL %q, got %q", listing.ImageURL, msg.ImageURL)
	}
	if msg.Priority != realty.PriorityHigh {
		t.Errorf("Expected high priority, got %s", msg.Priority)
	}
	if msg.Metadata["listing_id"] != "yad2-8842" || msg.Metadata["source"] != "yad2" {
		t.Errorf("Expected listing metadata, got %+v", msg.Metadata)
	}
	if msg.Metadata["score"] != "87.5" {
		t.Errorf("Expected score metadata 87.5, got %q", msg.Metadata["score"])
	}
	if msg.Metadata["confidence"] != "high" {
		t.Errorf("Expected confidence metadata high, got %q", msg.Metadata["confidence"])
	}
}

// TestBuildMessageAbsentFields verifies missing price, rooms, location and
// title fall back to explicit placeholders instead of empty strings.
func TestBuildMessageAbsentFields(t *testing.T) {
	listing := &realty.Listing{ID: "yad2-1", Source: "yad2"}
	result := realty.MatchResult{Score: 52, Confidence: realty.ConfidenceLow}

	msg := BuildMessage(listing, result)

	if msg.Title != "👍 Property Listing" {
		t.Errorf("Expected fallback title, got %q", msg.Title)
	}
	for _, want := range []string{
		"💰 Price: Price not specified",
		"🛏️ Rooms: Rooms not specified",
		"📍 Location: Location not specified",
		"🎯 Match Score: 52.0/100 (LOW CONFIDENCE)",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("Expected body to contain %q, got:\n%s", want, msg.Body)
		}
	}
	if msg.Priority != realty.PriorityLow {
		t.Errorf("Expected low priority, got %s", msg.Priority)
	}
	if strings.Contains(msg.Body, "✨") {
		t.Errorf("Expected no reasons section, got:\n%s", msg.Body)
	}
}

// TestBuildMessageZeroPrice verifies an explicit zero price reads as
// unspecified.
func TestBuildMessageZeroPrice(t *testing.T) {
	listing := &realty.Listing{ID: "yad2-2", Price: floatPtr(0)}
	msg := BuildMessage(listing, realty.MatchResult{Score: 60, Confidence: realty.ConfidenceMedium})

	if !strings.Contains(msg.Body, "Price not specified") {
		t.Errorf("Expected zero price treated as unspecified, got:\n%s", msg.Body)
	}
	if msg.Priority != realty.PriorityNormal {
		t.Errorf("Expected normal priority for medium confidence, got %s", msg.Priority)
	}
}

// TestBuildMessageReasonsCapped verifies only the top reasons appear in the
// body while metadata keeps the full list.
func TestBuildMessageReasonsCapped(t *testing.T) {
	listing := &realty.Listing{ID: "yad2-3"}
	result := realty.MatchResult{
		Score:      91,
		Confidence: realty.ConfidenceHigh,
		Reasons:    []string{"one", "two", "three", "four", "five"},
	}

	msg := BuildMessage(listing, result)

	if strings.Count(msg.Body, "• ") != maxReasonsShown {
		t.Errorf("Expected %d bullets, got:\n%s", maxReasonsShown, msg.Body)
	}
	if strings.Contains(msg.Body, "• four") {
		t.Errorf("Expected fourth reason dropped from body, got:\n%s", msg.Body)
	}
	if msg.Metadata["reasons"] != "one; two; three; four; five" {
		t.Errorf("Expected full reason list in metadata, got %q", msg.Metadata["reasons"])
	}
}

// TestBuildMessageTruncatesDescription verifies long descriptions are cut
// at the rune limit with an ellipsis.
func TestBuildMessageTruncatesDescription(t *testing.T) {
	listing := &realty.Listing{
		ID:          "yad2-4",
		Description: strings.Repeat("דירה יפה ", 60),
	}

	msg := BuildMessage(listing, realty.MatchResult{Score: 55, Confidence: realty.ConfidenceLow})

	if !strings.Contains(msg.Body, "...") {
		t.Errorf("Expected truncated description, got:\n%s", msg.Body)
	}
	for _, line := range strings.Split(msg.Body, "\n") {
		if count := len([]rune(line)); count > descriptionLimit {
			t.Errorf("Expected every body line within %d runes, got %d: %q", descriptionLimit, count, line)
		}
	}
}

// TestGroupThousands verifies comma grouping across magnitudes.
func TestGroupThousands(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{950, "950"},
		{5800, "5,800"},
		{12500, "12,500"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		if got := groupThousands(tt.in); got != tt.want {
			t.Errorf("groupThousands(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

// TestTruncate verifies rune-safe truncation on Hebrew text.
func TestTruncate(t *testing.T) {
	short := "דירה"
	if got := truncate(short, 10); got != short {
		t.Errorf("Expected short string untouched, got %q", got)
	}

	long := strings.Repeat("א", 30)
	got := truncate(long, 20)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Expected ellipsis suffix, got %q", got)
	}
	if count := len([]rune(got)); count != 20 {
		t.Errorf("Expected 20 runes, got %d", count)
	}
}
