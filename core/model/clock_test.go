package model

import (
	"encoding/json"
	"testing"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want Clock
		err  bool
	}{
		{"07:30", 450, false},
		{"7:05", 425, false},
		{"25:10", 1510, false},
		{"08:00:30", 480.5, false},
		{"8", 0, true},
		{"08:7", 0, true},
		{"aa:10", 0, true},
		{"08:61", 0, true},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.err {
			if err == nil {
				t.Errorf("%s: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("%s: expected %v got %v", c.in, c.want, got)
		}
	}
}

func TestClockString(t *testing.T) {
	if s := Clock(450).String(); s != "07:30" {
		t.Fatalf("expected 07:30 got %s", s)
	}
	if s := Clock(1510).String(); s != "25:10" {
		t.Fatalf("expected 25:10 got %s", s)
	}
}

func TestGapMinutesWraparound(t *testing.T) {
	if g := GapMinutes(MustParseClock("23:55"), MustParseClock("00:05")); g != 10 {
		t.Fatalf("expected 10 got %v", g)
	}
	if g := GapMinutes(MustParseClock("00:05"), MustParseClock("23:55")); g != -10 {
		t.Fatalf("expected -10 got %v", g)
	}
	if g := GapMinutes(MustParseClock("08:00"), MustParseClock("08:12")); g != 12 {
		t.Fatalf("expected 12 got %v", g)
	}
}

func TestClockJSON(t *testing.T) {
	type doc struct {
		At Clock `json:"at"`
	}
	b, err := json.Marshal(doc{At: Clock(475.2)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"at":"07:55:12"}` {
		t.Fatalf("unexpected json %s", b)
	}
	var d doc
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.At != Clock(475.2) {
		t.Fatalf("round trip mismatch %v", d.At)
	}
}
