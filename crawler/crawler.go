// Package crawler fetches property listings from external feed sources
// and converts them into typed listings for the pipeline.
package crawler

import (
	"context"
	"errors"
	"fmt"

	"realty-notifier/pkg/realty"
)

// Source produces listings for one scan target. Implementations own the
// wire format; callers only see typed listings.
type Source interface {
	Name() string
	Fetch(ctx context.Context, target realty.ScanTarget) ([]realty.Listing, error)
}

// BlockedError indicates the source refused the request outright, usually
// a bot wall or login requirement. Retrying immediately will not help.
type BlockedError struct {
	URL string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by source: %s", e.URL)
}

// IsBlocked checks if an error is a BlockedError.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}
