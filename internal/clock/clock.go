// Package clock implements a Fischer-increment game clock. It is not safe for
// concurrent use; the owning session serializes access.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/oracle"
)

// TimeControl is immutable once a game is created. A zero Initial means the
// game is untimed.
type TimeControl struct {
	InitialMs   int64 `json:"initial_ms"`
	IncrementMs int64 `json:"increment_ms"`
}

func (tc TimeControl) Untimed() bool { return tc.InitialMs <= 0 }

func (tc TimeControl) String() string {
	return fmt.Sprintf("%d+%d", tc.InitialMs/60000, tc.IncrementMs/1000)
}

// ParseTimeControl reads "minutes+seconds", e.g. "10+0" or "3+2".
func ParseTimeControl(s string) (TimeControl, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "+", 2)
	if len(parts) != 2 {
		return TimeControl{}, fmt.Errorf("time control %q: want minutes+seconds", s)
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || minutes < 0 || minutes > 180 {
		return TimeControl{}, fmt.Errorf("time control %q: bad minutes", s)
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || seconds < 0 || seconds > 180 {
		return TimeControl{}, fmt.Errorf("time control %q: bad increment", s)
	}
	return TimeControl{
		InitialMs:   int64(minutes) * 60000,
		IncrementMs: int64(seconds) * 1000,
	}, nil
}

type Clock struct {
	whiteMs     int64
	blackMs     int64
	incrementMs int64
	last        time.Time
	started     bool
	untimed     bool
}

func New(tc TimeControl) *Clock {
	return &Clock{
		whiteMs:     tc.InitialMs,
		blackMs:     tc.InitialMs,
		incrementMs: tc.IncrementMs,
		untimed:     tc.Untimed(),
	}
}

func (c *Clock) Untimed() bool { return c.untimed }
func (c *Clock) Started() bool { return c.started }

// Start marks the first clock-affecting event. Calling it twice is a no-op.
func (c *Clock) Start(now time.Time) {
	if c.started || c.untimed {
		return
	}
	c.started = true
	c.last = now
}

// Charge subtracts the time elapsed since the last event from side and
// reports whether its flag fell. Remaining time is clamped at zero.
func (c *Clock) Charge(side oracle.Color, now time.Time) (remaining int64, flagged bool) {
	if !c.started || c.untimed {
		return c.Remaining(side), false
	}
	elapsed := now.Sub(c.last).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c.last = now
	p := c.slot(side)
	if p == nil {
		return 0, false
	}
	*p -= elapsed
	if *p <= 0 {
		*p = 0
		return 0, true
	}
	return *p, false
}

// Credit adds the increment to side.
func (c *Clock) Credit(side oracle.Color) {
	if c.untimed {
		return
	}
	if p := c.slot(side); p != nil {
		*p += c.incrementMs
	}
}

func (c *Clock) Remaining(side oracle.Color) int64 {
	if p := c.slot(side); p != nil {
		return *p
	}
	return 0
}

func (c *Clock) Times() (whiteMs, blackMs int64) { return c.whiteMs, c.blackMs }

// Zero clamps side to zero, used when a flag fall is recorded.
func (c *Clock) Zero(side oracle.Color) {
	if p := c.slot(side); p != nil {
		*p = 0
	}
}

func (c *Clock) slot(side oracle.Color) *int64 {
	switch side {
	case oracle.White:
		return &c.whiteMs
	case oracle.Black:
		return &c.blackMs
	}
	return nil
}
