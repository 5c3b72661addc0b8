package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"realty-notifier/pkg/realty"
)

const defaultSendTimeout = 30 * time.Second

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Channels []Channel
	Logger   *slog.Logger

	// SendTimeout bounds each individual channel send; zero means 30s.
	SendTimeout time.Duration

	// MaxParallel caps concurrent sends; zero means all channels at once.
	MaxParallel int
}

// Dispatcher fans one message out to every channel a profile enables.
// A channel that is unknown, disabled, misconfigured or missing a
// recipient gets a failed result; the remaining channels still send.
type Dispatcher struct {
	channels    map[string]Channel
	logger      *slog.Logger
	sendTimeout time.Duration
	maxParallel int
}

// NewDispatcher builds a dispatcher over the given channels.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		channels:    make(map[string]Channel, len(cfg.Channels)),
		logger:      cfg.Logger,
		sendTimeout: cfg.SendTimeout,
		maxParallel: cfg.MaxParallel,
	}
	for _, ch := range cfg.Channels {
		d.channels[ch.Name()] = ch
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = defaultSendTimeout
	}
	if d.maxParallel <= 0 {
		d.maxParallel = len(cfg.Channels)
	}
	if d.maxParallel <= 0 {
		d.maxParallel = 1
	}
	return d
}

// Register adds or replaces a channel.
func (d *Dispatcher) Register(ch Channel) {
	d.channels[ch.Name()] = ch
	d.logger.Info("registered notification channel", "channel", ch.Name())
}

// Dispatch sends msg through every channel named in the profile's channel
// configuration and returns one result per named channel. The call blocks
// until every attempted send finished or timed out on its own; one
// channel's failure never aborts the others.
func (d *Dispatcher) Dispatch(ctx context.Context, msg realty.NotificationMessage, profile *realty.Profile) map[string]realty.NotificationResult {
	results := make(map[string]realty.NotificationResult, len(profile.Channels))
	var mu sync.Mutex

	// Channel names sorted for deterministic precheck logging.
	names := make([]string, 0, len(profile.Channels))
	for name := range profile.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	var g errgroup.Group
	g.SetLimit(d.maxParallel)

	for _, name := range names {
		cfg := profile.Channels[name]

		ch, recipient, failure := d.precheck(name, cfg)
		if failure != "" {
			d.logger.Warn("channel precheck failed",
				"channel", name, "profile", profile.ID, "reason", failure)
			results[name] = failedResult(name, failure)
			continue
		}

		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			res := ch.Send(sendCtx, msg, recipient)

			mu.Lock()
			results[name] = res
			mu.Unlock()

			if res.Status == realty.DeliverySuccess {
				d.logger.Info("notification sent",
					"channel", name, "profile", profile.ID, "message_id", res.MessageID)
			} else {
				d.logger.Warn("notification failed",
					"channel", name, "profile", profile.ID, "error", res.Error)
			}
			return nil
		})
	}
	_ = g.Wait() // send outcomes live in results, workers never error

	return results
}

// precheck resolves the channel and recipient for one profile entry.
// A non-empty failure string means the entry must not be sent.
func (d *Dispatcher) precheck(name string, cfg realty.ChannelConfig) (Channel, string, string) {
	if !cfg.Enabled {
		return nil, "", fmt.Sprintf("channel %s is disabled", name)
	}
	ch, ok := d.channels[name]
	if !ok {
		return nil, "", fmt.Sprintf("unknown channel: %s", name)
	}
	if err := ch.ValidateConfig(); err != nil {
		return nil, "", fmt.Sprintf("invalid %s configuration: %v", name, err)
	}
	if cfg.Recipient == "" {
		return nil, "", fmt.Sprintf("no recipient configured for %s", name)
	}
	return ch, cfg.Recipient, ""
}
