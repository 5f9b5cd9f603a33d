package log

import (
	"github.com/rs/zerolog"
	sdklog "go.temporal.io/sdk/log"
)

// TemporalAdapter bridges the Temporal SDK logger to zerolog so SDK output
// shares the process-wide sink and level configuration.
type TemporalAdapter struct {
	logger zerolog.Logger
}

// NewTemporalAdapter returns a Temporal SDK logger backed by the given zerolog logger.
func NewTemporalAdapter(logger zerolog.Logger) sdklog.Logger {
	return &TemporalAdapter{logger: logger}
}

func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Debug(), msg, keyvals)
}

func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Info(), msg, keyvals)
}

func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Warn(), msg, keyvals)
}

func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Error(), msg, keyvals)
}

// emit attaches SDK key/value pairs as fields. Odd trailing keys are kept
// under a catch-all field rather than dropped.
func (a *TemporalAdapter) emit(ev *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			ev = ev.Interface("field", keyvals[i])
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		ev = ev.Interface("extra", keyvals[len(keyvals)-1])
	}
	ev.Msg(msg)
}
