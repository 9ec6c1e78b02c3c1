package mpdplayer

import (
	"math"
	"strconv"
	"strings"

	"github.com/fhs/gompd/v2/mpd"

	"audiocontrold/internal/controller"
)

// negotiate derives the transport capabilities from a status snapshot and
// the file of the current song.
func negotiate(status mpd.Attrs, file string) controller.Transport {
	stopped := status["state"] == "stop" || status["state"] == ""

	pos, hasPos := atoiOK(status["song"])
	length, _ := atoiOK(status["playlistlength"])

	dur := statusDuration(status)
	seekable := dur > 0 && !math.IsInf(dur, 0) && !isStream(file)

	return controller.DeriveTransport(hasPos && pos+1 < length, hasPos && pos > 0, stopped, seekable)
} // func negotiate

// statusDuration reads "duration", falling back to the legacy
// "time: elapsed:total" field.
func statusDuration(status mpd.Attrs) float64 {
	if d, err := strconv.ParseFloat(status["duration"], 64); err == nil {
		return d
	}
	if _, total, ok := strings.Cut(status["time"], ":"); ok {
		if d, err := strconv.ParseFloat(total, 64); err == nil {
			return d
		}
	}
	return 0
}

func isStream(file string) bool {
	return strings.Contains(file, "://")
}

func atoiOK(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
