package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/bus"
	"github.com/vovakirdan/mindmate-chat/internal/config"
	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/engine"
	"github.com/vovakirdan/mindmate-chat/internal/history"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/moderation"
	"github.com/vovakirdan/mindmate-chat/internal/store"
	"github.com/vovakirdan/mindmate-chat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/mindmate-chat/internal/transport/http"
	"github.com/vovakirdan/mindmate-chat/internal/transport/stomp"
)

// tokenSkew treats tokens about to expire as expired.
const tokenSkew = 30 * time.Second

// App wires the sync engine to its REST and broker transports.
type App struct {
	engine   *engine.Engine
	history  *history.Loader
	identity *auth.Identity
	reports  *moderation.Client
	bus      *bus.PubSubBus
	ledger   *sqlite.Ledger
	log      *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	logger = log.OrNop(logger)
	tokens := auth.NewStaticToken(cfg.Token, tokenSkew)
	identity := auth.NewIdentity(cfg.Nickname, tokens)

	rest, err := transporthttp.NewClient(cfg.APIBaseURL, tokens, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	var (
		ledger    store.ReportLedger = store.NewMemoryLedger()
		sqlLedger *sqlite.Ledger
	)
	if cfg.Moderation.LedgerPath != "" {
		sqlLedger, err = sqlite.New(cfg.Moderation.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("init report ledger: %w", err)
		}
		ledger = sqlLedger
		logger.Info().Str("ledger_path", cfg.Moderation.LedgerPath).Msg("report ledger opened")
	}

	eventBus := bus.New(128, logger)
	loader := history.NewLoader(rest, logger)
	reports := moderation.NewClient(rest, ledger, cfg.Moderation.Cooldown, logger)
	eng := engine.New(engine.Deps{
		Dialer: &stomp.Dialer{
			URL:              cfg.BrokerURL,
			HeartBeat:        cfg.HeartBeat,
			HandshakeTimeout: cfg.RequestTimeout,
			Logger:           logger,
		},
		Tokens:      tokens,
		Identity:    identity,
		History:     loader,
		Moderation:  reports,
		Bus:         eventBus,
		Policy:      connection.PolicyFromConfig(cfg.Reconnect),
		MaxAttempts: cfg.Outbox.MaxAttempts,
		AckTimeout:  cfg.Outbox.AckTimeout,
		Logger:      logger,
	})

	return &App{
		engine:   eng,
		history:  loader,
		identity: identity,
		reports:  reports,
		bus:      eventBus,
		ledger:   sqlLedger,
		log:      logger,
	}, nil
}

// Engine exposes the sync engine to the UI layer.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// History exposes the loader for one-shot history reads.
func (a *App) History() *history.Loader {
	return a.history
}

// Nickname resolves the user's display nickname.
func (a *App) Nickname(ctx context.Context) (string, error) {
	return a.identity.Nickname(ctx)
}

// Run processes engine work and blocks until context cancellation.
func (a *App) Run(ctx context.Context) error {
	if n, err := a.reports.Prune(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to prune report ledger")
	} else if n > 0 {
		a.log.Debug().Int("pruned", n).Msg("expired reports pruned")
	}
	a.engine.Run(ctx)
	a.cleanup()
	return nil
}

// Close releases resources of an app that was never run.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes the event bus and the report ledger.
func (a *App) cleanup() {
	if a.bus != nil {
		a.bus.Close()
		a.bus = nil
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close report ledger")
		} else {
			a.log.Info().Msg("report ledger closed")
		}
		a.ledger = nil
	}
}
