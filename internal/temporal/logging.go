package temporal

import (
	"strings"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// sdkKeys renames the SDK's keyvals to the field names the rest of the
// service logs with, so task chains can be followed across drivers.
var sdkKeys = map[string]string{
	"WorkflowID":   "workflow_id",
	"RunID":        "run_id",
	"WorkflowType": "workflow_type",
	"ActivityID":   "activity_id",
	"ActivityType": "activity_type",
	"Attempt":      "attempt",
	"TaskQueue":    "task_queue",
	"Namespace":    "namespace",
	"task":         "task",
	"reason":       "reason",
}

// ZerologAdapter lets the Temporal SDK log through zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*ZerologAdapter)(nil)
	_ log.WithLogger = (*ZerologAdapter)(nil)
)

func NewTemporalAdapter(logger zerolog.Logger) log.Logger {
	return &ZerologAdapter{
		logger: logger.With().Str("component", "temporal").Logger(),
	}
}

// With returns an adapter whose lines always carry keyvals.
func (a *ZerologAdapter) With(keyvals ...interface{}) log.Logger {
	ctx := a.logger.With()
	eachField(keyvals, func(key string, value interface{}) {
		ctx = ctx.Interface(key, value)
	})
	return &ZerologAdapter{logger: ctx.Logger()}
}

func (a *ZerologAdapter) Debug(msg string, keyvals ...interface{}) {
	fields(a.logger.Debug(), keyvals).Msg(msg)
}

func (a *ZerologAdapter) Info(msg string, keyvals ...interface{}) {
	fields(a.logger.Info(), keyvals).Msg(msg)
}

func (a *ZerologAdapter) Warn(msg string, keyvals ...interface{}) {
	fields(a.logger.Warn(), keyvals).Msg(msg)
}

func (a *ZerologAdapter) Error(msg string, keyvals ...interface{}) {
	fields(a.logger.Error(), keyvals).Msg(msg)
}

func fields(event *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	eachField(keyvals, func(key string, value interface{}) {
		if err, ok := value.(error); ok && key == "error" {
			event = event.Err(err)
			return
		}
		event = event.Interface(key, value)
	})
	return event
}

// eachField walks keyvals pairwise. A trailing key without a value is kept
// under "extra"; non-string keys are dropped.
func eachField(keyvals []interface{}, fn func(key string, value interface{})) {
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			fn("extra", keyvals[i])
			return
		}
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if renamed, known := sdkKeys[key]; known {
			key = renamed
		} else {
			key = strings.ToLower(key)
		}
		fn(key, keyvals[i+1])
	}
}
