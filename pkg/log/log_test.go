// Copyright 2025 The vmmkit Authors.
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

package log

import (
	"strings"
	"testing"
	"time"
)

type testEmitter struct {
	lines []string
}

func (e *testEmitter) Emit(_ int, _ Level, _ time.Time, format string, v ...any) {
	e.lines = append(e.lines, format)
}

func TestLevels(t *testing.T) {
	e := &testEmitter{}
	l := &BasicLogger{Level: Info, Emitter: e}

	l.Debugf("debug")
	l.Infof("info")
	l.Warningf("warning")

	if len(e.lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(e.lines), e.lines)
	}
	if e.lines[0] != "info" || e.lines[1] != "warning" {
		t.Errorf("got lines %q", e.lines)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("debug is not logging after SetLevel(Debug)")
	}
	l.Debugf("debug")
	if e.lines[len(e.lines)-1] != "debug" {
		t.Errorf("debug line was not emitted")
	}
}

func TestWriter(t *testing.T) {
	var sb strings.Builder
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &sb}}

	l.Infof("mapped %d pages", 42)

	out := sb.String()
	if !strings.Contains(out, "mapped 42 pages") {
		t.Errorf("output %q does not contain the message", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("output %q is not newline-terminated", out)
	}
}

func TestRateLimited(t *testing.T) {
	e := &testEmitter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: e}, 1)

	// One allowed immediately, the burst of repeats dropped.
	for i := 0; i < 100; i++ {
		l.Warningf("spam")
	}
	if len(e.lines) != 1 {
		t.Errorf("got %d lines, want 1", len(e.lines))
	}
}
