package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderProfile is what the engine needs to know about a provider to price and place a booking.
type ProviderProfile struct {
	HourlyRateCents int64
	Currency        string
	Location        *time.Location
}

type ProviderDirectory interface {
	Profile(ctx context.Context, providerID string) (ProviderProfile, error)
}

// StaticDirectory serves profiles from configuration.
type StaticDirectory struct {
	defaultRate     int64
	currency        string
	defaultLocation *time.Location
	rates           map[string]int64
	locations       map[string]*time.Location
}

func NewStaticDirectory(defaultRateCents int64, currency, defaultTimezone string, rates map[string]int64, timezones map[string]string) (*StaticDirectory, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	defaultLoc, err := loadLocation(defaultTimezone)
	if err != nil {
		return nil, err
	}

	locations := make(map[string]*time.Location, len(timezones))
	for providerID, tz := range timezones {
		loc, err := loadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", providerID, err)
		}
		locations[providerID] = loc
	}

	r := make(map[string]int64, len(rates))
	for k, v := range rates {
		r[k] = v
	}

	return &StaticDirectory{
		defaultRate:     defaultRateCents,
		currency:        currency,
		defaultLocation: defaultLoc,
		rates:           r,
		locations:       locations,
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}

func (d *StaticDirectory) Profile(ctx context.Context, providerID string) (ProviderProfile, error) {
	rate, ok := d.rates[providerID]
	if !ok {
		rate = d.defaultRate
	}
	loc, ok := d.locations[providerID]
	if !ok {
		loc = d.defaultLocation
	}
	return ProviderProfile{HourlyRateCents: rate, Currency: d.currency, Location: loc}, nil
}
