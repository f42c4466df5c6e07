// Copyright 2025 The Gantry Authors
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

package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"time"
)

// NewTestLogger creates a debug-level JSON logger writing to an
// in-memory buffer for assertions.
func NewTestLogger() (*Config, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := MustNew(
		WithJSONHandler(),
		WithOutput(buf),
		WithLevel(LevelDebug),
	)
	return logger, buf
}

// LogEntry is a parsed JSON log entry for test assertions.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Attrs   map[string]any
}

// ParseJSONLogEntries parses the JSON log entries accumulated in buf.
// The buffer is read without being consumed.
func ParseJSONLogEntries(buf *bytes.Buffer) ([]LogEntry, error) {
	reader := bytes.NewReader(buf.Bytes())

	var entries []LogEntry
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var raw map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			return nil, err
		}

		entry := LogEntry{
			Attrs: make(map[string]any),
		}
		if msg, ok := raw["msg"].(string); ok {
			entry.Message = msg
		}
		if level, ok := raw["level"].(string); ok {
			entry.Level = level
		}
		for k, v := range raw {
			if k != "time" && k != "level" && k != "msg" {
				entry.Attrs[k] = v
			}
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}
