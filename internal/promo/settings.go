package promo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Promo settings live in a single data row of the promo_settings worksheet:
// enabled, interval days, send time "HH:MM", last sent date "YYYY-MM-DD".
const (
	lastSentRow    = 2
	lastSentColumn = 4
)

type Settings struct {
	Enabled      bool
	IntervalDays int
	SendHour     int
	SendMinute   int
	LastSent     time.Time // date precision; zero when never sent
}

type SettingsRowStore interface {
	FetchRawRows(ctx context.Context, skipHeader bool) ([][]string, error)
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// SettingsService reads and updates the promo schedule. All time arithmetic
// happens in the configured location.
type SettingsService struct {
	store    SettingsRowStore
	location *time.Location
}

func NewSettingsService(store SettingsRowStore, location *time.Location) *SettingsService {
	return &SettingsService{store: store, location: location}
}

func (s *SettingsService) Get(ctx context.Context) (Settings, error) {
	rows, err := s.store.FetchRawRows(ctx, true)
	if err != nil {
		return Settings{}, fmt.Errorf("fetch promo settings: %w", err)
	}

	var row []string
	if len(rows) > 0 {
		row = rows[0]
	}
	return parseSettings(row), nil
}

// UpdateLastSent records the day of a completed broadcast. Only the date is
// written; the gate compares calendar days, never clock time.
func (s *SettingsService) UpdateLastSent(ctx context.Context, day time.Time) error {
	value := day.In(s.location).Format("2006-01-02")
	if err := s.store.UpdateCell(ctx, lastSentRow, lastSentColumn, value); err != nil {
		return fmt.Errorf("update last sent date: %w", err)
	}
	return nil
}

// ShouldSendNow reports whether a broadcast is due. A recorded send today is
// a hard guard: the answer stays false until the next local calendar day no
// matter what the interval says.
func (s *SettingsService) ShouldSendNow(settings Settings, now time.Time) bool {
	now = now.In(s.location)

	if !settings.Enabled {
		return false
	}

	if !settings.LastSent.IsZero() && sameDay(settings.LastSent, now) {
		return false
	}

	sendAt := time.Date(now.Year(), now.Month(), now.Day(),
		settings.SendHour, settings.SendMinute, 0, 0, s.location)
	if now.Before(sendAt) {
		return false
	}

	if settings.LastSent.IsZero() {
		return true
	}

	nextAllowed := dateOnly(settings.LastSent).AddDate(0, 0, settings.IntervalDays)
	return !dateOnly(now).Before(nextAllowed)
}

func parseSettings(row []string) Settings {
	settings := Settings{IntervalDays: 1}

	if len(row) > 0 {
		settings.Enabled = strings.EqualFold(strings.TrimSpace(row[0]), "TRUE")
	}
	if len(row) > 1 {
		// Zero or garbage collapses to one day, so a misconfigured interval
		// can never cause a same-day repeat.
		if n, err := strconv.Atoi(strings.TrimSpace(row[1])); err == nil && n > 1 {
			settings.IntervalDays = n
		}
	}
	if len(row) > 2 {
		settings.SendHour, settings.SendMinute = parseSendTime(row[2])
	}
	if len(row) > 3 {
		settings.LastSent = parseLastSentDate(row[3])
	}
	return settings
}

func parseSendTime(value string) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0
	}
	return hour, minute
}

// parseLastSentDate takes only the YYYY-MM-DD prefix: the sheet may hand back
// a datetime or arbitrary text, and anything unparseable reads as never sent.
func parseLastSentDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if len(value) > 10 {
		value = value[:10]
	}

	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return day
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}
