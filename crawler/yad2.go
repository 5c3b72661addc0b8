package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"realty-notifier/pkg/realty"
)

const (
	yad2BaseURL = "https://www.yad2.co.il"

	// postedAtLayout is the timestamp format the feed uses.
	postedAtLayout = "2006-01-02 15:04:05"

	defaultMaxListings = 50
)

// Yad2 fetches rental listings from a Yad2-style JSON feed. The scan
// target's query is the complete feed URL, already carrying the search
// parameters.
type Yad2 struct {
	client      *http.Client
	logger      *slog.Logger
	maxListings int
}

// NewYad2 creates a Yad2 feed client.
func NewYad2(client *http.Client, logger *slog.Logger) *Yad2 {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Yad2{
		client:      client,
		logger:      logger,
		maxListings: defaultMaxListings,
	}
}

func (y *Yad2) Name() string { return "yad2" }

type feedEnvelope struct {
	Data struct {
		Feed struct {
			Items []json.RawMessage `json:"feed_items"`
		} `json:"feed"`
	} `json:"data"`
}

type feedItem struct {
	ID           string   `json:"id"`
	LinkToken    string   `json:"link_token"`
	Title        string   `json:"title"`
	Price        string   `json:"price"`
	RoomsText    string   `json:"rooms_text"`
	Street       string   `json:"street"`
	Neighborhood string   `json:"neighborhood"`
	City         string   `json:"city"`
	InfoText     string   `json:"info_text"`
	ImageURL     string   `json:"img_url"`
	Tags         []string `json:"tags"`
	DateAdded    string   `json:"date_added"`
}

// Fetch downloads and parses one feed page.
func (y *Yad2) Fetch(ctx context.Context, target realty.ScanTarget) ([]realty.Listing, error) {
	feedURL := target.Query
	if feedURL == "" {
		return nil, errors.New("scan target has no query URL")
	}

	var raw []json.RawMessage
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Realistic browser headers keep the feed endpoint from
			// rejecting the client.
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "application/json, text/plain, */*")
			req.Header.Set("Accept-Language", "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7")
			req.Header.Set("Referer", yad2BaseURL+"/")
			req.Header.Set("X-Requested-With", "XMLHttpRequest")

			start := time.Now()
			resp, err := y.client.Do(req)
			if err != nil {
				return fmt.Errorf("yad2 request: %w", err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					y.logger.Debug("close response body", "source", "yad2", "error", closeErr)
				}
			}()

			y.logger.Info("feed page fetched",
				"url", feedURL,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			if resp.StatusCode == http.StatusForbidden {
				return &BlockedError{URL: feedURL}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("yad2 feed: http %d", resp.StatusCode)
			}

			var envelope feedEnvelope
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode feed: %w", err))
			}
			raw = envelope.Data.Feed.Items
			return nil
		},
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !IsBlocked(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			y.logger.Warn("retrying feed fetch", "url", feedURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch yad2 feed after retries: %w", err)
	}

	listings := make([]realty.Listing, 0, len(raw))
	for _, item := range raw {
		if len(listings) >= y.maxListings {
			break
		}
		listing, ok := y.listing(item)
		if !ok {
			continue
		}
		listings = append(listings, listing)
	}

	y.logger.Info("feed parsed", "url", feedURL, "items", len(raw), "listings", len(listings))
	return listings, nil
}

// listing converts one feed item, reporting false for items missing the
// fields every listing must carry.
func (y *Yad2) listing(raw json.RawMessage) (realty.Listing, bool) {
	var item feedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		y.logger.Warn("skipping malformed feed item", "error", err)
		return realty.Listing{}, false
	}

	id := item.ID
	if id == "" {
		id = item.LinkToken
	}

	listing := realty.Listing{
		ID:          id,
		Source:      "yad2",
		Title:       collapseSpaces(item.Title),
		Description: Flatten(item.InfoText),
		Price:       parsePrice(item.Price),
		Rooms:       parseRooms(item.RoomsText),
		Location:    joinLocation(item.Street, item.Neighborhood, item.City),
		URL:         itemURL(item.LinkToken),
		ImageURL:    item.ImageURL,
		Features:    item.Tags,
		PostedAt:    parsePostedAt(item.DateAdded),
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		listing.RawPayload = payload
	}

	if listing.ID == "" || listing.Title == "" || listing.URL == "" {
		y.logger.Warn("skipping incomplete feed item", "id", listing.ID, "title", listing.Title)
		return realty.Listing{}, false
	}
	return listing, true
}

func itemURL(linkToken string) string {
	if linkToken == "" {
		return ""
	}
	if strings.HasPrefix(linkToken, "http://") || strings.HasPrefix(linkToken, "https://") {
		return linkToken
	}
	return yad2BaseURL + "/item/" + linkToken
}

// parsePrice strips currency symbols and separators, keeping digits only.
func parsePrice(text string) *float64 {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return nil
	}
	return &v
}

var roomsPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// parseRooms extracts the first decimal number, so "3.5 חדרים" and plain
// "3.5" both work.
func parseRooms(text string) *float64 {
	match := roomsPattern.FindString(text)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

func joinLocation(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = collapseSpaces(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func parsePostedAt(text string) *time.Time {
	if text == "" {
		return nil
	}
	t, err := time.Parse(postedAtLayout, text)
	if err != nil {
		return nil
	}
	return &t
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
