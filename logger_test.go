package vkhelper_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/andewx/vkhelper"
)

type logLine struct {
	Level   string `json:"level"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

func readLines(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var lines []logLine
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var l logLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	return lines
}

func TestLoggerChannels(t *testing.T) {
	var buf bytes.Buffer
	log := vkhelper.NewLogger(&buf, "debug", false)
	log.Debug("d %d", 1)
	log.Message("m %d", 2)
	log.Warning("w %d", 3)
	log.Error("e %d", 4)

	want := []logLine{
		{Level: "debug", Message: "d 1"},
		{Level: "info", Channel: "message", Message: "m 2"},
		{Level: "warn", Channel: "warning", Message: "w 3"},
		{Level: "error", Channel: "error", Message: "e 4"},
	}
	got := readLines(t, &buf)
	if len(got) != len(want) {
		t.Fatalf("got %d lines: %+v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := vkhelper.NewLogger(&buf, "warn", false)
	log.Debug("hidden")
	log.Message("hidden")
	log.Warning("shown")

	got := readLines(t, &buf)
	if len(got) != 1 || got[0].Message != "shown" {
		t.Fatalf("lines = %+v", got)
	}
}

func TestLoggerDriverSeverity(t *testing.T) {
	var buf bytes.Buffer
	log := vkhelper.NewLogger(&buf, "debug", false)
	log.Driver(vkhelper.SeverityVerbose, "layer", "a")
	log.Driver(vkhelper.SeverityInfo, "layer", "b")
	log.Driver(vkhelper.SeverityWarning, "layer", "c")
	log.Driver(vkhelper.SeverityError, "layer", "d")

	channels := []string{"message", "message", "warning", "error"}
	got := readLines(t, &buf)
	if len(got) != len(channels) {
		t.Fatalf("lines = %+v", got)
	}
	for i, ch := range channels {
		if got[i].Channel != ch {
			t.Errorf("line %d channel %q, want %q", i, got[i].Channel, ch)
		}
	}
	if got[3].Message != "[layer] d" {
		t.Fatalf("message = %q", got[3].Message)
	}
}

func TestNilLogger(t *testing.T) {
	var log *vkhelper.Logger
	log.Debug("x")
	log.Message("x")
	log.Warning("x")
	log.Error("x")
	log.Driver(vkhelper.SeverityError, "l", "x")
	vkhelper.NopLogger().Error("x")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for in, want := range tests {
		if got := vkhelper.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
