package notify

import (
	"fmt"
	"strconv"
	"strings"

	"realty-notifier/pkg/realty"
)

const (
	descriptionLimit = 200
	maxReasonsShown  = 3
)

// BuildMessage renders a matched listing into a channel-agnostic message.
// The body is plain text; channels add their own markup in Format.
func BuildMessage(listing *realty.Listing, result realty.MatchResult) realty.NotificationMessage {
	title := listing.Title
	if title == "" {
		title = "Property Listing"
	}

	var b strings.Builder
	b.WriteString("💰 Price: " + priceText(listing.Price) + "\n")
	b.WriteString("🛏️ Rooms: " + roomsText(listing.Rooms) + "\n")
	b.WriteString("📍 Location: " + locationText(listing.Location) + "\n")
	fmt.Fprintf(&b, "🎯 Match Score: %.1f/100 (%s)", result.Score, confidenceText(result.Confidence))

	if desc := truncate(listing.Description, descriptionLimit); desc != "" {
		b.WriteString("\n\n" + desc)
	}

	if len(result.Reasons) > 0 {
		b.WriteString("\n\n✨ Why this matches:")
		reasons := result.Reasons
		if len(reasons) > maxReasonsShown {
			reasons = reasons[:maxReasonsShown]
		}
		for _, r := range reasons {
			b.WriteString("\n• " + r)
		}
	}

	return realty.NotificationMessage{
		Title:    confidenceEmoji(result.Confidence) + " " + title,
		Body:     b.String(),
		URL:      listing.URL,
		ImageURL: listing.ImageURL,
		Priority: priorityFor(result.Confidence),
		Metadata: map[string]string{
			"listing_id": listing.ID,
			"source":     listing.Source,
			"score":      fmt.Sprintf("%.1f", result.Score),
			"confidence": string(result.Confidence),
			"reasons":    strings.Join(result.Reasons, "; "),
		},
	}
}

func priorityFor(c realty.Confidence) realty.Priority {
	switch c {
	case realty.ConfidenceHigh:
		return realty.PriorityHigh
	case realty.ConfidenceMedium:
		return realty.PriorityNormal
	default:
		return realty.PriorityLow
	}
}

func confidenceEmoji(c realty.Confidence) string {
	switch c {
	case realty.ConfidenceHigh:
		return "🔥"
	case realty.ConfidenceMedium:
		return "⭐"
	default:
		return "👍"
	}
}

func confidenceText(c realty.Confidence) string {
	switch c {
	case realty.ConfidenceHigh:
		return "HIGH CONFIDENCE"
	case realty.ConfidenceMedium:
		return "MEDIUM CONFIDENCE"
	default:
		return "LOW CONFIDENCE"
	}
}

func priceText(price *float64) string {
	if price == nil || *price == 0 {
		return "Price not specified"
	}
	return groupThousands(*price) + " ILS/month"
}

func roomsText(rooms *float64) string {
	if rooms == nil || *rooms == 0 {
		return "Rooms not specified"
	}
	return strconv.FormatFloat(*rooms, 'f', -1, 64) + " rooms"
}

func locationText(location string) string {
	if location == "" {
		return "Location not specified"
	}
	return location
}

// groupThousands renders a number with comma separators, dropping any
// fractional part for display.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// truncate shortens s to at most max runes, marking the cut with an
// ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
