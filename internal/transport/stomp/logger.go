package stomp

import (
	"fmt"

	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"
)

// zerologAdapter routes go-stomp connection logs into the component logger.
type zerologAdapter struct {
	logger *zerolog.Logger
}

var _ gostomp.Logger = zerologAdapter{}

func newLogAdapter(logger *zerolog.Logger) zerologAdapter {
	l := logger.With().Str("component", "stomp").Logger()
	return zerologAdapter{logger: &l}
}

func (a zerologAdapter) Debugf(format string, value ...interface{}) {
	a.logger.Debug().Msg(fmt.Sprintf(format, value...))
}

func (a zerologAdapter) Infof(format string, value ...interface{}) {
	a.logger.Debug().Msg(fmt.Sprintf(format, value...))
}

func (a zerologAdapter) Warningf(format string, value ...interface{}) {
	a.logger.Warn().Msg(fmt.Sprintf(format, value...))
}

func (a zerologAdapter) Errorf(format string, value ...interface{}) {
	a.logger.Error().Msg(fmt.Sprintf(format, value...))
}

func (a zerologAdapter) Debug(message string)   { a.logger.Debug().Msg(message) }
func (a zerologAdapter) Info(message string)    { a.logger.Debug().Msg(message) }
func (a zerologAdapter) Warning(message string) { a.logger.Warn().Msg(message) }
func (a zerologAdapter) Error(message string)   { a.logger.Error().Msg(message) }
