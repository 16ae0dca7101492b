package api

import (
	"fmt"
	"net/http"
	"time"
)

// MaxPreviewWindow bounds the window accepted by /triggers.
const MaxPreviewWindow = 7 * 24 * time.Hour

// parseWindow extracts the RFC 3339 start and end query parameters.
func parseWindow(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()

	start, err = parseTimeParam(q.Get("start"), "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = parseTimeParam(q.Get("end"), "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	if end.Sub(start) > MaxPreviewWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("window exceeds maximum of %s", MaxPreviewWindow)
	}
	return start.UTC(), end.UTC(), nil
}

func parseTimeParam(value, name string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: must be RFC 3339", name)
	}
	return t, nil
}
