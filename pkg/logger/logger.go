// Package logger provides component-tagged leveled logging for the refrag
// host surfaces. The engine library itself stays silent and reports through
// its metrics hook instead.
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

var (
	debugEnabled atomic.Bool
	std          = log.New(os.Stderr, "", log.LstdFlags)
)

// SetDebug toggles debug-level output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugCF logs at debug level with a component tag and structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	if !debugEnabled.Load() {
		return
	}
	emit("DEBUG", component, msg, fields)
}

// InfoCF logs at info level with a component tag and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit("INFO", component, msg, fields)
}

// WarnCF logs at warn level with a component tag and structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit("WARN", component, msg, fields)
}

// ErrorCF logs at error level with a component tag and structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit("ERROR", component, msg, fields)
}

func emit(level, component, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s [%s] %s", level, component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	std.Println(b.String())
}
