package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarAPI is the part of *alpaca.Client used by Calendar.
type calendarAPI interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// Calendar answers trading-session questions from the Alpaca trading
// calendar API.
type Calendar struct {
	client calendarAPI
	et     *time.Location
}

// NewCalendar creates a Calendar with the given Alpaca credentials.
func NewCalendar(apiKey, apiSecret, baseURL string) (*Calendar, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newCalendar(client)
}

func newCalendar(client calendarAPI) (*Calendar, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return &Calendar{client: client, et: et}, nil
}

// LatestSession returns the most recent trading day whose session has ended
// as of now (after 20:05 ET, once extended-hours data has settled). The
// result is midnight UTC of that day.
func (c *Calendar) LatestSession(now time.Time) (time.Time, error) {
	now = now.In(c.et)
	start := now.AddDate(0, 0, -7)

	calendar, err := c.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, c.et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date == today {
			if now.After(cutoff) {
				t, _ := time.Parse("2006-01-02", day.Date)
				return t, nil
			}
			continue
		}
		dayDate, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		if day.Date < today {
			return dayDate, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

// Sessions returns every trading day in [start, end], in order, as midnight
// UTC.
func (c *Calendar) Sessions(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	calendar, err := c.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	sessions := make([]time.Time, 0, len(calendar))
	for _, day := range calendar {
		t, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing calendar date %q: %w", day.Date, err)
		}
		sessions = append(sessions, t)
	}
	return sessions, nil
}
