// Package keys derives deterministic, collision-resistant storage keys for
// alarm artifacts.
//
// Keys embed the event id as a literal prefix of the object name so a single
// event can be located with a prefix scan instead of downloading and parsing
// every event file; the leading UTC date partition bounds listing cost for
// range queries.
package keys

import (
	"fmt"
	"time"
)

// dateLayout is the UTC calendar-date partition format.
const dateLayout = "2006-01-02"

// Pair holds the derived storage keys for one (trigger, timestamp)
// combination, plus the date partition they share.
type Pair struct {
	Date     string
	EventKey string
	VideoKey string
}

// Derive computes the storage key pair for a trigger and a millisecond
// timestamp:
//
//	base     = {eventId}_{device}_{timestampMillis}
//	eventKey = {date}/{base}.json
//	videoKey = {date}/{base}.mp4
//
// Derive is a pure function: identical inputs always yield identical keys.
// No validation is performed; malformed inputs still produce keys
// (validation happens upstream).
func Derive(eventID, device string, timestampMillis int64) Pair {
	date := time.UnixMilli(timestampMillis).UTC().Format(dateLayout)
	base := fmt.Sprintf("%s_%s_%d", eventID, device, timestampMillis)
	return Pair{
		Date:     date,
		EventKey: fmt.Sprintf("%s/%s.json", date, base),
		VideoKey: fmt.Sprintf("%s/%s.mp4", date, base),
	}
}
