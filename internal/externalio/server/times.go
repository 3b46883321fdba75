package server

import (
	"fmt"
	"net/http"
	"time"
)

// Reads starttime/endtime form values.
// Start accepts RFC3339Nano or a relative duration (-5m), defaulting to the last minute.
// End accepts RFC3339Nano or "now". A start in the future is rejected.
func parseTimeRange(clientRequest *http.Request, now time.Time) (start, end time.Time, err error) {
	start = now.Add(-1 * time.Minute)

	rawStartTime := clientRequest.FormValue("starttime")
	switch {
	case rawStartTime == "":
	case rawStartTime[0] == '-' || rawStartTime[0] == '+':
		dur, parseErr := time.ParseDuration(rawStartTime)
		if parseErr == nil {
			start = now.Add(dur)
		}
	default:
		start, err = time.Parse(time.RFC3339Nano, rawStartTime)
		if err != nil {
			err = fmt.Errorf("invalid start time: %w", err)
			return
		}
	}
	if start.After(now) {
		err = fmt.Errorf("start time %s is in the future", start.Format(time.RFC3339))
		return
	}

	end = now
	rawEndTime := clientRequest.FormValue("endtime")
	if rawEndTime != "now" && rawEndTime != "" {
		end, err = time.Parse(time.RFC3339Nano, rawEndTime)
		if err != nil {
			err = fmt.Errorf("invalid end time: %w", err)
			return
		}
	}
	return
}
