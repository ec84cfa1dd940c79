package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
	transporthttp "github.com/vovakirdan/mindmate-chat/internal/transport/http"
)

// API is the subset of the REST client the loader needs.
type API interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Loader fetches the persisted message log of a room.
type Loader struct {
	api API
	log *zerolog.Logger
}

// NewLoader builds a history loader. Request timeouts are enforced by api.
func NewLoader(api API, logger *zerolog.Logger) *Loader {
	return &Loader{api: api, log: log.OrNop(logger)}
}

// Fetch returns the room's history ordered by timestamp. Entries that fail
// validation are skipped rather than failing the whole page.
func (l *Loader) Fetch(ctx context.Context, room string) ([]core.Message, error) {
	if room == "" {
		return nil, core.ValidationError("fetch history", errors.New("room is required"))
	}

	var raw []proto.ChatMessage
	if err := l.api.GetJSON(ctx, "/api/messages/"+url.PathEscape(room), &raw); err != nil {
		return nil, classify(room, err)
	}

	messages := make([]core.Message, 0, len(raw))
	for i, m := range raw {
		if err := m.Validate(); err != nil {
			l.log.Warn().Err(err).Str("room", room).Int("index", i).Msg("skipping malformed history entry")
			continue
		}
		messages = append(messages, m.Message(room))
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	l.log.Debug().Str("room", room).Int("count", len(messages)).Msg("history loaded")
	return messages, nil
}

func classify(room string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if core.Code(err) != "" {
		return fmt.Errorf("fetch history for %s: %w", room, err)
	}
	var statusErr *transporthttp.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return core.ProtocolError("fetch history for "+room, err)
	}
	return core.NetworkError("fetch history for "+room, err)
}
