package moderation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/store"
)

// DefaultCooldown is how long a repeated report is answered locally.
const DefaultCooldown = time.Minute

// API is the subset of the REST client used for reports.
type API interface {
	Post(ctx context.Context, path string, query url.Values) error
}

// Result describes how a report was handled.
type Result int

const (
	// Reported means the backend accepted the report.
	Reported Result = iota
	// Suppressed means an identical report is still cooling down; nothing was sent.
	Suppressed
)

func (r Result) String() string {
	switch r {
	case Reported:
		return "reported"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Client issues report-user actions.
type Client struct {
	api      API
	ledger   store.ReportLedger
	cooldown time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	group singleflight.Group
}

// NewClient builds a moderation client. A nil ledger keeps cooldowns in memory.
func NewClient(api API, ledger store.ReportLedger, cooldown time.Duration, logger *zerolog.Logger) *Client {
	if ledger == nil {
		ledger = store.NewMemoryLedger()
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Client{
		api:      api,
		ledger:   ledger,
		cooldown: cooldown,
		logger:   log.OrNop(logger),
		now:      time.Now,
	}
}

// Report files a report of reported by reporter in room. Self-reports are
// rejected without a network call; a repeat inside the cooldown window
// succeeds with Suppressed. Concurrent identical reports share one request.
func (c *Client) Report(ctx context.Context, reporter, reported, room string) (Result, error) {
	key := store.ReportKey{
		Reporter: strings.TrimSpace(reporter),
		Reported: strings.TrimSpace(reported),
		Room:     strings.TrimSpace(room),
	}
	if key.Reporter == "" || key.Reported == "" || key.Room == "" {
		return 0, core.ValidationError("report user", errors.New("reporter, reported and room are required"))
	}
	if key.Reporter == key.Reported {
		return 0, core.ValidationError("report user", core.ErrSelfReport)
	}

	if c.coolingDown(ctx, key) {
		c.logger.Debug().Str("room", key.Room).Str("reported", key.Reported).Msg("report suppressed by cooldown")
		return Suppressed, nil
	}

	v, err, shared := c.group.Do(key.Reporter+"\x00"+key.Reported+"\x00"+key.Room, func() (any, error) {
		if c.coolingDown(ctx, key) {
			return Suppressed, nil
		}
		return c.send(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	result := v.(Result)
	if shared {
		c.logger.Debug().Str("room", key.Room).Str("reported", key.Reported).Msg("report shared with in-flight request")
	}
	return result, nil
}

// Prune forgets reports whose cooldown has expired.
func (c *Client) Prune(ctx context.Context) (int, error) {
	return c.ledger.PruneBefore(ctx, c.now().Add(-c.cooldown))
}

func (c *Client) send(ctx context.Context, key store.ReportKey) (Result, error) {
	query := url.Values{
		"reporter": {key.Reporter},
		"reported": {key.Reported},
		"room":     {key.Room},
	}
	if err := c.api.Post(ctx, "/api/report", query); err != nil {
		c.logger.Warn().Err(err).Str("room", key.Room).Str("reported", key.Reported).Msg("report failed")
		return 0, core.ModerationError("report "+key.Reported, err)
	}

	issued := c.now()
	if err := c.ledger.RecordReport(ctx, store.Report{ReportKey: key, IssuedAt: issued}); err != nil {
		c.logger.Warn().Err(err).Msg("recording report cooldown failed")
	}
	c.logger.Info().Str("room", key.Room).Str("reported", key.Reported).Msg("user reported")
	return Reported, nil
}

func (c *Client) coolingDown(ctx context.Context, key store.ReportKey) bool {
	if c.cooldown == 0 {
		return false
	}
	last, ok, err := c.ledger.LastReport(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("reading report cooldown failed")
		return false
	}
	return ok && c.now().Sub(last) < c.cooldown
}
