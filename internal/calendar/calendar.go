// Package calendar answers business-day questions for the Korean exchange.
// Weekends and a built-in set of fixed-date Korean holidays are non-business
// days; lunar-calendar holidays and one-off market closures are supplied via
// an optional holiday file.
package calendar

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DateFormat is the canonical date layout used across repositories and the ledger.
const DateFormat = "2006-01-02"

// Calendar determines which dates are market business days.
type Calendar struct {
	mu    sync.RWMutex
	fixed map[int][]time.Time // fixed-date holidays by year
	extra map[string]struct{} // holidays loaded from file, keyed by DateFormat
	log   zerolog.Logger
}

// New creates a calendar with the built-in fixed Korean holidays.
func New(log zerolog.Logger) *Calendar {
	return &Calendar{
		fixed: make(map[int][]time.Time),
		extra: make(map[string]struct{}),
		log:   log.With().Str("component", "calendar").Logger(),
	}
}

// holidayFile is the YAML layout of an exchange holiday file.
type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// LoadHolidayFile adds holidays from a YAML file (dates in YYYY-MM-DD).
func (c *Calendar) LoadHolidayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read holiday file: %w", err)
	}

	var hf holidayFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return fmt.Errorf("failed to parse holiday file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range hf.Holidays {
		if _, err := time.Parse(DateFormat, s); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", s, err)
		}
		c.extra[s] = struct{}{}
	}

	c.log.Info().Int("count", len(hf.Holidays)).Str("file", path).Msg("Loaded exchange holidays")
	return nil
}

// fixedHolidays returns the fixed-date Korean market holidays for a year.
func (c *Calendar) fixedHolidays(year int) []time.Time {
	c.mu.RLock()
	if hs, ok := c.fixed[year]; ok {
		c.mu.RUnlock()
		return hs
	}
	c.mu.RUnlock()

	hs := []time.Time{
		time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),   // New Year's Day
		time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC),   // Independence Movement Day
		time.Date(year, 5, 5, 0, 0, 0, 0, time.UTC),   // Children's Day
		time.Date(year, 6, 6, 0, 0, 0, 0, time.UTC),   // Memorial Day
		time.Date(year, 8, 15, 0, 0, 0, 0, time.UTC),  // Liberation Day
		time.Date(year, 10, 3, 0, 0, 0, 0, time.UTC),  // National Foundation Day
		time.Date(year, 10, 9, 0, 0, 0, 0, time.UTC),  // Hangul Day
		time.Date(year, 12, 25, 0, 0, 0, 0, time.UTC), // Christmas Day
		time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC), // Year-end market closure
	}

	c.mu.Lock()
	c.fixed[year] = hs
	c.mu.Unlock()
	return hs
}

// IsBusinessDay reports whether the given date is a market business day.
func (c *Calendar) IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}

	key := d.Format(DateFormat)
	c.mu.RLock()
	_, isExtra := c.extra[key]
	c.mu.RUnlock()
	if isExtra {
		return false
	}

	for _, h := range c.fixedHolidays(d.Year()) {
		if h.Format(DateFormat) == key {
			return false
		}
	}

	return true
}

// PreviousBusinessDay returns the closest business day strictly before d.
func (c *Calendar) PreviousBusinessDay(d time.Time) time.Time {
	prev := d.AddDate(0, 0, -1)
	for !c.IsBusinessDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// NextBusinessDay returns the closest business day strictly after d.
func (c *Calendar) NextBusinessDay(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for !c.IsBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// BusinessDaysBetween returns all business days in [start, end], oldest first.
// Returns nil when start is after end.
func (c *Calendar) BusinessDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}
