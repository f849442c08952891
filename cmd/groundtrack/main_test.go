package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/groundtrack/internal/logging"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

func TestRunTable(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-line1", issLine1, "-line2", issLine2,
		"-at", "2024-04-09T12:00:00Z", "-span", "20", "-step", "10",
		"-observer", "0,0",
	}, &out, logging.Noop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "NORAD 25544") || !strings.Contains(text, "elevation") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	// header + 3 samples after the blank line
	table := strings.SplitN(text, "\n\n", 2)[1]
	if n := strings.Count(strings.TrimSpace(table), "\n") + 1; n != 4 {
		t.Fatalf("table rows = %d, want 4:\n%s", n, table)
	}
}

func TestRunJSONFromFeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.txt")
	feed := "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n"
	if err := os.WriteFile(path, []byte(feed), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-feed-url", path, "-name", "25544", "-at", "2024-04-09T12:00:00Z", "-json",
	}, &out, logging.Noop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got struct {
		Name    string `json:"name"`
		History struct {
			T []string `json:"t"`
		} `json:"history"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if got.Name != "ISS (ZARYA)" || len(got.History.T) != 11 {
		t.Fatalf("got %+v", got)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	cases := [][]string{
		{"-line1", issLine1},
		{"-line1", issLine1, "-line2", issLine2, "-at", "2024-04-09 12:00"},
		{"-line1", issLine1, "-line2", issLine2, "-at", "2024-04-09T12:00:00Z", "-observer", "95,0"},
		{"-line1", issLine1, "-line2", issLine2, "-gravity", "egm96"},
	}
	for _, args := range cases {
		if err := run(context.Background(), args, &bytes.Buffer{}, logging.Noop()); err == nil {
			t.Errorf("run(%q) succeeded, want error", args)
		}
	}
}
