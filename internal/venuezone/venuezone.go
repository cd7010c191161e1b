// Package venuezone is the closed venue -> IANA timezone enumeration
// used to derive trading_date from ts_event_us. Read-only after
// process start.
package venuezone

import (
	"fmt"
	"time"
)

var zones = map[string]string{
	"binance-spot": "UTC",
	"binance-usdm": "UTC",
	"okx-spot":     "UTC",
	"okx-swap":     "UTC",
	"deribit":      "UTC",
	"sse":          "Asia/Shanghai",
	"szse":         "Asia/Shanghai",
}

// venueIDs is the closed venue -> numeric venue_id enumeration stamped
// into every event table's venue_id column. Assigned once, in the
// order venues were onboarded; never reused after a venue is retired.
var venueIDs = map[string]int64{
	"binance-spot": 1,
	"binance-usdm": 2,
	"okx-spot":     3,
	"okx-swap":     4,
	"deribit":      5,
	"sse":          6,
	"szse":         7,
}

// VenueID returns the numeric id for venue, or an error if venue is
// not in the closed enumeration.
func VenueID(venue string) (int64, error) {
	id, ok := venueIDs[venue]
	if !ok {
		return 0, fmt.Errorf("venuezone: unknown venue %q", venue)
	}
	return id, nil
}

// Lookup returns the *time.Location for venue, or an error if venue is
// not in the closed enumeration.
func Lookup(venue string) (*time.Location, error) {
	name, ok := zones[venue]
	if !ok {
		return nil, fmt.Errorf("venuezone: unknown venue %q", venue)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("venuezone: loading zone %q for venue %q: %w", name, venue, err)
	}
	return loc, nil
}

// TradingDate derives the trading_date partition value for an event
// timestamp at a given venue: the calendar date of tsEventUs in the
// venue's local zone, returned as a YYYY-MM-DD string matching the
// partition directory naming.
func TradingDate(venue string, tsEventUs int64) (string, error) {
	loc, err := Lookup(venue)
	if err != nil {
		return "", err
	}
	t := time.UnixMicro(tsEventUs).In(loc)
	return t.Format("2006-01-02"), nil
}

// Venues returns every venue in the closed enumeration, for
// introspection/CLI use.
func Venues() []string {
	out := make([]string, 0, len(zones))
	for v := range zones {
		out = append(out, v)
	}
	return out
}
