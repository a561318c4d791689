package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinutesPerDay is the length of a service day in minutes.
const MinutesPerDay = 1440

// Clock is a time of day expressed in minutes after service-day midnight.
// Values of 1440 and above represent after-midnight service of the same
// service day.
type Clock float64

// ParseClock parses "H:MM", "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	total := float64(h*60 + m)
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
		total += float64(sec) / 60
	}
	return Clock(total), nil
}

// MustParseClock is ParseClock for literals. It panics on malformed input.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the clock as HH:MM rounded to the nearest minute.
func (c Clock) String() string {
	total := int(math.Round(float64(c)))
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d:%02d", sign, total/60, total%60)
}

// Minutes returns the raw minute count.
func (c Clock) Minutes() float64 { return float64(c) }

// Add returns the clock shifted by delta minutes.
func (c Clock) Add(delta float64) Clock { return c + Clock(delta) }

// GapMinutes returns b-a normalised into [-720, 720] so that times on either
// side of midnight compare as neighbours.
func GapMinutes(a, b Clock) float64 {
	diff := float64(b - a)
	for diff > MinutesPerDay/2 {
		diff -= MinutesPerDay
	}
	for diff < -MinutesPerDay/2 {
		diff += MinutesPerDay
	}
	return diff
}

// MarshalText renders HH:MM, or HH:MM:SS when the clock carries seconds.
func (c Clock) MarshalText() ([]byte, error) {
	secs := int(math.Round(float64(c) * 60))
	if secs%60 == 0 {
		return []byte(c.String()), nil
	}
	sign := ""
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	return []byte(fmt.Sprintf("%s%02d:%02d:%02d", sign, secs/3600, (secs/60)%60, secs%60)), nil
}

// UnmarshalText parses the formats accepted by ParseClock.
func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
