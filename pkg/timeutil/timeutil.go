// Package timeutil holds timestamp helpers shared by the venue adapters and
// the clock synchronizer.
package timeutil

import "time"

// NowMillis returns the current Unix time in milliseconds, the unit both
// venues expect in signed requests.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
