// Package dedup decides whether a listing has been seen before. Listings
// are identified by a content fingerprint rather than source IDs, so the
// same property reposted under a new ID is still recognized.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"

	"realty-notifier/normalize"
	"realty-notifier/pkg/realty"
)

// Store persists seen fingerprints. Implementations must be safe for
// concurrent use.
type Store interface {
	IsSeen(ctx context.Context, fingerprint string) (bool, error)
	MarkSeen(ctx context.Context, fingerprint string, listing *realty.Listing) error
}

// Fingerprint derives a stable identity for a listing from its content:
// price, rooms and normalized location, title and description prefixes,
// hashed with SHA-256. Listings that differ only in formatting, casing or
// source ID produce the same fingerprint.
func Fingerprint(l *realty.Listing) string {
	parts := []string{
		floatKey(l.Price),
		floatKey(l.Rooms),
		runePrefix(normalize.Text(l.Location), 50),
		runePrefix(normalize.Text(l.Title), 100),
		runePrefix(normalize.Text(l.Description), 100),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// floatKey encodes an optional numeric field. Absent values encode as "0",
// same as a literal zero.
func floatKey(v *float64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// runePrefix truncates by runes, not bytes. Listing text is mostly Hebrew,
// so byte slicing would split multibyte runes.
func runePrefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Deduplicator answers seen/unseen questions against a Store.
type Deduplicator struct {
	store  Store
	logger *slog.Logger
}

// New creates a Deduplicator backed by store.
func New(store Store, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{store: store, logger: logger}
}

// IsSeen reports whether the fingerprint was recorded before. Errors are
// returned to the caller, which treats them as "seen" to avoid duplicate
// notifications when the store is unavailable.
func (d *Deduplicator) IsSeen(ctx context.Context, fingerprint string) (bool, error) {
	seen, err := d.store.IsSeen(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if seen {
		d.logger.Debug("duplicate listing skipped", "fingerprint", fingerprint)
	}
	return seen, nil
}

// MarkSeen records the fingerprint. Recording the same fingerprint twice
// is not an error.
func (d *Deduplicator) MarkSeen(ctx context.Context, fingerprint string, listing *realty.Listing) error {
	return d.store.MarkSeen(ctx, fingerprint, listing)
}
