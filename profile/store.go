// Package profile persists user search profiles as JSON objects, either
// in a Cloud Storage bucket or a local directory for development.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"realty-notifier/pkg/realty"
)

// ErrNotFound reports the requested profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Store handles profile persistence. A non-empty localPath switches the
// store to plain files, otherwise objects live in the bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a profile store.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Key generates the stable object name for a profile ID. IDs are
// restricted to a filename-safe alphabet to prevent path traversal; an
// unsafe ID yields "".
func Key(id string) string {
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, c := range id {
		safe := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !safe {
			return ""
		}
	}
	return fmt.Sprintf("profile-%s.json", id)
}

// Save writes one profile.
func (s *Store) Save(ctx context.Context, p *realty.Profile) error {
	key := Key(p.ID)
	if key == "" {
		return fmt.Errorf("invalid profile id %q", p.ID)
	}
	s.logger.Debug("saving profile", "key", key, "name", p.Name)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if s.localPath != "" {
		path := filepath.Join(s.localPath, key)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("profile saved to local storage", "path", path, "name", p.Name)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("close writer after failed write", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Warn("retrying profile save", "attempt", n+1, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("profile saved", "key", key, "name", p.Name)
	return nil
}

// Load reads one profile by ID. A missing profile satisfies
// errors.Is(err, ErrNotFound).
func (s *Store) Load(ctx context.Context, id string) (*realty.Profile, error) {
	key := Key(id)
	if key == "" {
		return nil, fmt.Errorf("invalid profile id %q", id)
	}
	return s.loadKey(ctx, key)
}

func (s *Store) loadKey(ctx context.Context, key string) (*realty.Profile, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("%s: %w", key, ErrNotFound))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Warn("retrying profile load", "attempt", n+1, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
			}
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var p realty.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

// Delete removes one profile. Deleting a missing profile is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	key := Key(id)
	if key == "" {
		return fmt.Errorf("invalid profile id %q", id)
	}
	s.logger.Debug("deleting profile", "key", key)

	if s.localPath != "" {
		path := filepath.Join(s.localPath, key)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("profile deleted from local storage", "path", path)
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Warn("retrying profile delete", "attempt", n+1, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("profile deleted", "key", key)
	return nil
}

// List returns all stored profiles. Unreadable objects are skipped with a
// warning so one corrupt profile cannot block a scan cycle.
func (s *Store) List(ctx context.Context) ([]*realty.Profile, error) {
	var profiles []*realty.Profile

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "profile-") || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			p, err := s.loadKey(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("skipping unreadable profile", "file", entry.Name(), "error", err)
				continue
			}
			profiles = append(profiles, p)
		}
		return profiles, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: "profile-"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		p, err := s.loadKey(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("skipping unreadable profile", "key", attrs.Name, "error", err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Active returns the profiles the scan cycle should evaluate.
func (s *Store) Active(ctx context.Context) ([]*realty.Profile, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*realty.Profile, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}
