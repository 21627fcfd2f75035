package app

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingChannels is matched by every *MissingChannelsError.
var ErrMissingChannels = errors.New("missing required channels")

// LapChannels names a lap and the required channels it lacks.
type LapChannels struct {
	Lap     string
	Missing []string
}

// MissingChannelsError blocks analysis when a lap lacks required channels.
type MissingChannelsError struct {
	Laps []LapChannels
}

func (e *MissingChannelsError) Error() string {
	parts := make([]string, 0, len(e.Laps))
	for _, l := range e.Laps {
		parts = append(parts, fmt.Sprintf("%s: %s", l.Lap, strings.Join(l.Missing, ", ")))
	}
	return "missing required channels: " + strings.Join(parts, "; ")
}

func (e *MissingChannelsError) Is(target error) bool {
	return target == ErrMissingChannels
}
