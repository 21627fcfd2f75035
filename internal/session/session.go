package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

// Lap is a loaded lap together with its channel detection.
type Lap struct {
	Name      string
	Data      local.Lap
	Detection channels.DetectionResult
}

// NewLap resolves data against catalog.
func NewLap(name string, data local.Lap, catalog channels.Catalog) Lap {
	return Lap{
		Name:      name,
		Data:      data,
		Detection: channels.Resolve(data.Columns, catalog),
	}
}

// Session is one reference/current comparison. It is a value: build a new
// one per analysis rather than mutating a shared instance.
type Session struct {
	ID        string
	CreatedAt time.Time
	Driver    string
	Track     string
	Reference Lap
	Current   Lap
}

// NewID returns a fresh session identifier.
func NewID() string {
	return "session_" + uuid.NewString()
}

// New builds a Session stamped with now (UTC).
func New(driver, track string, reference, current Lap, now time.Time) Session {
	return Session{
		ID:        NewID(),
		CreatedAt: now.UTC(),
		Driver:    strings.TrimSpace(driver),
		Track:     strings.TrimSpace(track),
		Reference: reference,
		Current:   current,
	}
}

// Ready reports whether both laps carry every required channel.
func (s Session) Ready() bool {
	return s.Reference.Detection.OK() && s.Current.Detection.OK()
}

// Timestamp formats CreatedAt as ISO-8601.
func (s Session) Timestamp() string {
	return s.CreatedAt.Format(time.RFC3339Nano)
}

// Request builds the webhook payload for this session.
func (s Session) Request() analysis.AnalyzeRequest {
	return analysis.AnalyzeRequest{
		ReferenceData: s.Reference.Data.Rows,
		CurrentData:   s.Current.Data.Rows,
		DriverName:    s.Driver,
		TrackName:     s.Track,
		SessionID:     s.ID,
		Timestamp:     s.Timestamp(),
	}
}
