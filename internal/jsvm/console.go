package jsvm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

const hostNamespace = "conduit"

// installHost injects console.* and conduit.{log,context} for one call.
func installHost(vm *goja.Runtime, log zerolog.Logger, sessionID, script string) error {
	l := log.With().Str("script", script).Logger()
	if sessionID != "" {
		l = l.With().Str("session_id", sessionID).Logger()
	}

	logObj := vm.NewObject()
	for name, level := range map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"log":   zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	} {
		level := level
		if err := logObj.Set(name, func(call goja.FunctionCall) goja.Value {
			l.WithLevel(level).Msg(formatArgs(call.Arguments))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := vm.Set("console", logObj); err != nil {
		return err
	}

	ctxObj := vm.NewObject()
	_ = ctxObj.Set("session_id", sessionID)
	_ = ctxObj.Set("script_name", script)

	host := vm.NewObject()
	_ = host.Set("log", logObj)
	_ = host.Set("context", ctxObj)
	return vm.Set(hostNamespace, host)
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatValue(a))
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch val := v.Export().(type) {
	case string:
		return val
	case map[string]any, []any:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
