// Package tzproj converts instants between UTC and brand-local wall clock.
//
// Zones always come from the IANA database; fixed offsets are never used so
// daylight-saving transitions are honoured.
package tzproj

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	appLog "ferdy/internal/log"
)

// LocalLayout is the wall-clock format stored on jobs (YYYY-MM-DDTHH:mm:ss).
const LocalLayout = "2006-01-02T15:04:05"

// DefaultTimezone is used for brands without a configured zone.
const DefaultTimezone = "Pacific/Auckland"

// Projector resolves brand zones and renders instants in them.
// The zero value is not usable; call New.
type Projector struct {
	defaultTZ   string
	reportingTZ string

	mu      sync.Mutex
	cache   map[string]*time.Location
	unknown map[string]error
	warned  map[string]bool
}

// New returns a Projector. defaultTZ is the fallback brand zone and
// reportingTZ the fixed secondary zone used for reporting columns. Both must
// be valid IANA names.
func New(defaultTZ, reportingTZ string) (*Projector, error) {
	if strings.TrimSpace(defaultTZ) == "" {
		defaultTZ = DefaultTimezone
	}
	if strings.TrimSpace(reportingTZ) == "" {
		reportingTZ = defaultTZ
	}
	p := &Projector{
		defaultTZ:   defaultTZ,
		reportingTZ: reportingTZ,
		cache:       make(map[string]*time.Location),
		unknown:     make(map[string]error),
		warned:      make(map[string]bool),
	}
	if _, err := p.load(defaultTZ); err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	if _, err := p.load(reportingTZ); err != nil {
		return nil, fmt.Errorf("reporting timezone: %w", err)
	}
	return p, nil
}

func (p *Projector) load(name string) (*time.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc, ok := p.cache[name]; ok {
		return loc, nil
	}
	if err, ok := p.unknown[name]; ok {
		return nil, err
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.unknown[name] = err
		return nil, err
	}
	p.cache[name] = loc
	return loc, nil
}

// Resolve returns the zone name and location to use for a brand zone.
// Empty or unknown names fall back to the default zone; each unknown name is
// logged once.
func (p *Projector) Resolve(tz string) (string, *time.Location) {
	name := strings.TrimSpace(tz)
	if name != "" {
		loc, err := p.load(name)
		if err == nil {
			return name, loc
		}
		if p.firstFallback(name) {
			appLog.Warn("unknown timezone; using default", "name", name, "default", p.defaultTZ, "reason", err.Error())
		}
	}
	loc, _ := p.load(p.defaultTZ)
	return p.defaultTZ, loc
}

func (p *Projector) firstFallback(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.warned[name] {
		return false
	}
	p.warned[name] = true
	return true
}

// ToLocal renders instant as wall-clock time in tz, returning the string and
// the zone name actually used.
func (p *Projector) ToLocal(instant time.Time, tz string) (string, string) {
	name, loc := p.Resolve(tz)
	return instant.In(loc).Format(LocalLayout), name
}

// FromLocal parses a wall-clock string in tz back to a UTC instant.
func (p *Projector) FromLocal(local, tz string) (time.Time, error) {
	_, loc := p.Resolve(tz)
	t, err := time.ParseInLocation(LocalLayout, local, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local time %q: %w", local, err)
	}
	return t.UTC(), nil
}

// At returns the instant at which the civil date day reaches hh:mm in tz.
// A wall clock that does not exist (spring-forward gap) is normalized
// forward by Go's time.Date rules.
func (p *Projector) At(day time.Time, hour, minute int, tz string) time.Time {
	_, loc := p.Resolve(tz)
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc).UTC()
}

// Reporting renders instant in the fixed secondary zone.
func (p *Projector) Reporting(instant time.Time) string {
	loc, _ := p.load(p.reportingTZ)
	return instant.In(loc).Format(LocalLayout)
}

// ReportingTZ returns the fixed secondary zone name.
func (p *Projector) ReportingTZ() string {
	return p.reportingTZ
}

// TargetMonth returns the first day of instant's month in UTC.
func TargetMonth(instant time.Time) time.Time {
	u := instant.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseTimeOfDay parses "HH:MM" (or "HH:MM:SS", seconds ignored).
func ParseTimeOfDay(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time of day %q", s)
}
