package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"breakout/internal/util"
)

// DefaultPushoverURL is the Pushover message endpoint.
const DefaultPushoverURL = "https://api.pushover.net/1/messages.json"

// PushoverConfig configures the Pushover sink.
type PushoverConfig struct {
	Token      string // application token
	User       string // user or group key
	URL        string
	Attempts   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// Pushover sends notifications through the Pushover HTTP API.
type Pushover struct {
	client *resty.Client
	cfg    PushoverConfig
	log    *slog.Logger
}

var _ Notifier = (*Pushover)(nil)

// NewPushover builds a Pushover notifier. Zero fields in cfg take defaults:
// 3 attempts spaced 10s apart. A negative RetryDelay retries without pausing.
func NewPushover(cfg PushoverConfig, logger *slog.Logger) *Pushover {
	if cfg.URL == "" {
		cfg.URL = DefaultPushoverURL
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Pushover{
		client: client,
		cfg:    cfg,
		log:    logger.With("component", "pushover"),
	}
}

// Notify sends msg and logs the final failure, if any.
func (p *Pushover) Notify(ctx context.Context, msg string) {
	if err := p.Send(ctx, msg); err != nil {
		p.log.Error("notification not delivered", "message", msg, "error", err)
	}
}

// Send posts msg, retrying with a fixed delay until Pushover acknowledges it
// with status 1 or the attempts run out.
func (p *Pushover) Send(ctx context.Context, msg string) error {
	b := util.Backoff{Attempts: p.cfg.Attempts, BaseDelay: p.cfg.RetryDelay, MaxDelay: p.cfg.RetryDelay}
	return util.RetryBackoff(ctx, b, func() error {
		var out pushoverResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"token":   p.cfg.Token,
				"user":    p.cfg.User,
				"message": msg,
			}).
			SetResult(&out).
			SetError(&out).
			Post(p.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(ctx.Err())
			}
			p.log.Warn("pushover request failed", "error", err)
			return fmt.Errorf("pushover request: %w", err)
		}
		if out.Status != 1 {
			p.log.Warn("pushover rejected message", "http_status", resp.StatusCode(), "errors", out.Errors)
			if len(out.Errors) > 0 {
				return fmt.Errorf("pushover status %d: %s", out.Status, out.Errors[0])
			}
			return errors.New("pushover: message not acknowledged")
		}
		return nil
	})
}
