package main

import (
	"testing"
)

func TestParseISODuration(t *testing.T) {
	valid := map[string]int64{
		"PT10S":    10_000,
		"PT0.5S":   500,
		"PT1M":     60_000,
		"PT1H30M":  90 * 60_000,
		"P1D":      24 * 3600 * 1000,
		"P1DT2H":   26 * 3600 * 1000,
		"P2W":      14 * 24 * 3600 * 1000,
		"P1M":      30 * 24 * 3600 * 1000,
		"P1Y":      365 * 24 * 3600 * 1000,
		"PT0S":    0,
		"PT90S":   90_000,
		"PT0.25M": 15_000,
	}
	for val, want := range valid {
		got, err := parseISODuration(val)
		if err != nil {
			t.Errorf("%s: unexpected error %v", val, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %d, got %d", val, want, got)
		}
	}

	// Fields after a fractional value ("P0.5DT1H") are rejected.
	invalid := []string{"", "P", "10S", "PT", "PT10", "PT10X", "P0.5DT1H", "PT-10S", "T10S", "PT1H T"}
	for _, val := range invalid {
		if got, err := parseISODuration(val); err == nil {
			t.Errorf("%s: expected error, got %d", val, got)
		}
	}
}

func TestFormatISODuration(t *testing.T) {
	cases := map[int64]string{
		0:                      "PT0S",
		-5:                     "PT0S",
		500:                    "PT0.5S",
		10_000:                 "PT10S",
		90_000:                 "PT1M30S",
		3600_000:               "PT1H",
		24 * 3600 * 1000:       "P1D",
		26*3600*1000 + 60_000:  "P1DT2H1M",
	}
	for millis, want := range cases {
		if got := formatISODuration(millis); got != want {
			t.Errorf("%d: expected %s, got %s", millis, want, got)
		}
	}

	// Round trip through the parser.
	for _, millis := range []int64{1000, 61_000, 3_723_500, 90 * 3600 * 1000} {
		back, err := parseISODuration(formatISODuration(millis))
		if err != nil {
			t.Errorf("%d: round trip failed: %v", millis, err)
		} else if back != millis {
			t.Errorf("%d: round trip produced %d", millis, back)
		}
	}
}

func TestParseISOTime(t *testing.T) {
	got, err := parseISOTime("2025-06-01T12:00:00Z")
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	const want = 1748779200000
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}

	if formatISOTime(want) != "2025-06-01T12:00:00Z" {
		t.Errorf("format mismatch: %s", formatISOTime(want))
	}

	for _, val := range []string{"", "yesterday", "2025-06-01", "12:00:00"} {
		if _, err := parseISOTime(val); err == nil {
			t.Errorf("%s: expected error", val)
		}
	}
}

func TestWsScheme(t *testing.T) {
	cases := map[string]string{
		"http://example.com/.notifications/x":  "ws://example.com/.notifications/x",
		"https://example.com/.notifications/x": "wss://example.com/.notifications/x",
		"wss://example.com/already":            "wss://example.com/already",
	}
	for in, want := range cases {
		if got := wsScheme(in); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}
