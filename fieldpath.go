package session

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// resolveField walks a dot-separated path into a JSON body. A missing
// intermediate or terminal segment yields absent; it never fails. Absence is
// a normal, checked outcome so call sites can tell "not configured" from
// "configured but missing".
func resolveField(body []byte, path string) (gjson.Result, bool) {
	if path == "" {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(body, path)
	return res, res.Exists()
}

// unixMillisCutoff separates unix-second from unix-millisecond encodings.
// Anything above it cannot be a plausible second-resolution timestamp.
const unixMillisCutoff = int64(1) << 40

// parseExpiry interprets an expiry field. RFC3339 strings, unix seconds and
// unix milliseconds are accepted; anything else is treated as no expiry.
func parseExpiry(res gjson.Result) (time.Time, bool) {
	switch res.Type {
	case gjson.String:
		s := res.String()
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n), true
		}
	case gjson.Number:
		return unixTime(res.Int()), true
	}
	return time.Time{}, false
}

func unixTime(n int64) time.Time {
	if n > unixMillisCutoff {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
