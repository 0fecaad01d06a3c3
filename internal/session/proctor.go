package session

import "time"

type monitorState int

const (
	monitorIdle monitorState = iota
	// monitorAlert: a warning is on screen; further focus loss is part of
	// the same incident.
	monitorAlert
	// monitorCooling: the warning was dismissed; counting resumes at coolUntil.
	monitorCooling
)

func (s monitorState) String() string {
	switch s {
	case monitorAlert:
		return "alert"
	case monitorCooling:
		return "cooling"
	default:
		return "idle"
	}
}

// monitor counts focus-loss violations. Time only moves through the now
// arguments, so it has no timers of its own.
type monitor struct {
	max       int
	cooldown  time.Duration
	armedAt   time.Time
	state     monitorState
	count     int
	coolUntil time.Time
}

func newMonitor(max int, cooldown time.Duration, armedAt time.Time) *monitor {
	if max < 1 {
		max = 1
	}
	return &monitor{max: max, cooldown: cooldown, armedAt: armedAt}
}

func (m *monitor) settle(now time.Time) {
	if m.state == monitorCooling && !now.Before(m.coolUntil) {
		m.state = monitorIdle
	}
}

// report registers a focus loss and tells whether it was counted and
// whether the limit is now reached.
func (m *monitor) report(now time.Time) (counted, reached bool) {
	m.settle(now)
	if now.Before(m.armedAt) || m.state != monitorIdle {
		return false, false
	}
	m.count++
	m.state = monitorAlert
	return true, m.count >= m.max
}

func (m *monitor) acknowledge(now time.Time) {
	if m.state == monitorAlert {
		m.state = monitorCooling
		m.coolUntil = now.Add(m.cooldown)
	}
}
