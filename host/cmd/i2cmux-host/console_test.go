package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"i2cmux/config"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultBoardConfig()
	master, _, err := openBackend(cfg)
	if err != nil {
		t.Fatalf("openBackend failed: %v", err)
	}
	var out bytes.Buffer
	c, err := buildConsole(cfg, master, &out)
	if err != nil {
		t.Fatalf("buildConsole failed: %v", err)
	}
	return c, &out
}

func TestConsoleWriteRead(t *testing.T) {
	c, out := newTestConsole(t)

	if err := c.Exec("wr accel 6 0xa8"); err != nil {
		t.Fatalf("wr failed: %v", err)
	}
	if !strings.Contains(out.String(), "accel: 00 40 00 00 00 c0") {
		t.Errorf("Unexpected output %q", out.String())
	}

	out.Reset()
	if err := c.Exec("write mag 02 01"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := c.Exec("write mag 02"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := c.Exec("read mag 1"); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasSuffix(out.String(), "mag: 01\n") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestConsoleErrors(t *testing.T) {
	c, _ := newTestConsole(t)

	tests := []string{
		"bogus",
		"write nodev 01",
		"write accel zz",
		"write accel",
		"read accel -1",
		"wr accel 100 00",
		`write "accel`,
	}
	for _, line := range tests {
		if err := c.Exec(line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}

	if err := c.Exec("quit"); !errors.Is(err, errQuit) {
		t.Errorf("Expected errQuit, got %v", err)
	}
	if err := c.Exec("   "); err != nil {
		t.Errorf("Blank line returned %v", err)
	}
}

func TestConsoleDevicesStatsEvents(t *testing.T) {
	c, out := newTestConsole(t)

	if err := c.Exec("devices"); err != nil {
		t.Fatalf("devices failed: %v", err)
	}
	if !strings.Contains(out.String(), "accel    i2c@0x5c") || !strings.Contains(out.String(), "mag      i2c@0x1e") {
		t.Errorf("Unexpected device list %q", out.String())
	}

	c.Exec("wr accel 2 0xa8")
	out.Reset()
	if err := c.Exec("stats"); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out.String(), "Completed: (uint32) 1") {
		t.Errorf("Unexpected stats dump %q", out.String())
	}

	out.Reset()
	if err := c.Exec("events clear"); err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if !strings.Contains(out.String(), "DISPATCH") {
		t.Errorf("Expected a dispatch event, got %q", out.String())
	}
	out.Reset()
	c.Exec("events")
	if out.Len() != 0 {
		t.Errorf("Expected empty trace after clear, got %q", out.String())
	}
}

func TestConsoleSensor(t *testing.T) {
	c, out := newTestConsole(t)

	if err := c.Exec("sensor"); err != nil {
		t.Fatalf("sensor failed: %v", err)
	}
	want := []string{
		"present:     true",
		"accel:       x=16384 y=0 z=-16384",
		"mag:         x=300 y=-100 z=50",
		"temperature: 20",
	}
	for _, w := range want {
		if !strings.Contains(out.String(), w) {
			t.Errorf("Missing %q in %q", w, out.String())
		}
	}
}

func TestParseBytes(t *testing.T) {
	got, err := parseBytes([]string{"0x1E", "ff", "7"})
	if err != nil {
		t.Fatalf("parseBytes failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x1E, 0xFF, 0x07}) {
		t.Errorf("Unexpected bytes % x", got)
	}
	if _, err := parseBytes([]string{"100"}); err == nil {
		t.Error("Expected error for out of range byte")
	}
}
