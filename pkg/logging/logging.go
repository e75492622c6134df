// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides leveled logging on top of the standard log
// package. Messages below the configured minimum level are discarded; the
// gateway logs denied and dropped requests at debug level, so production
// deployments typically run at info.
package logging

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log message.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone suppresses all output.
	LevelNone
)

var minLevel atomic.Int32

// SetLevel sets the process-wide minimum level.
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

// ParseLevel converts a level name ("debug", "info", "warn", "error",
// "none") into a Level. Unknown names default to debug.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none":
		return LevelNone
	default:
		return LevelDebug
	}
}

func enabled(l Level) bool {
	return int32(l) >= minLevel.Load()
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, args...)
	}
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, args...)
	}
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, args...)
	}
}
