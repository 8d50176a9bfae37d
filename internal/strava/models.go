package strava

import "time"

// DetailedActivity is the detailed activity payload from the tracking platform.
type DetailedActivity struct {
	ID                 int64          `json:"id"`
	Athlete            Athlete        `json:"athlete"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Type               string         `json:"type"`
	SportType          string         `json:"sport_type"`
	StartDateLocal     time.Time      `json:"start_date_local"`
	Distance           float64        `json:"distance"`             // meters
	MovingTime         int            `json:"moving_time"`          // seconds
	ElapsedTime        int            `json:"elapsed_time"`         // seconds
	TotalElevationGain float64        `json:"total_elevation_gain"` // meters
	AverageSpeed       float64        `json:"average_speed"`        // m/s
	AverageHeartrate   float64        `json:"average_heartrate"`
	MaxHeartrate       float64        `json:"max_heartrate"`
	HasHeartrate       bool           `json:"has_heartrate"`
	DeviceName         string         `json:"device_name"`
	Gear               *Gear          `json:"gear"`
	Trainer            bool           `json:"trainer"`
	SplitsMetric       []SplitMetric  `json:"splits_metric"`
}

// Athlete is the minimal athlete reference embedded in activity payloads.
type Athlete struct {
	ID int64 `json:"id"`
}

// Gear describes the equipment attached to an activity.
type Gear struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SplitMetric is one platform-computed kilometer split.
type SplitMetric struct {
	Split            int     `json:"split"`
	Distance         float64 `json:"distance"`
	ElapsedTime      int     `json:"elapsed_time"`
	MovingTime       int     `json:"moving_time"`
	AverageSpeed     float64 `json:"average_speed"`
	AverageHeartrate float64 `json:"average_heartrate"`
}

// Lap is one platform-native lap.
type Lap struct {
	LapIndex         int     `json:"lap_index"`
	Distance         float64 `json:"distance"`
	ElapsedTime      int     `json:"elapsed_time"`
	MovingTime       int     `json:"moving_time"`
	AverageSpeed     float64 `json:"average_speed"`
	AverageHeartrate float64 `json:"average_heartrate"`
	StartIndex       int     `json:"start_index"`
	EndIndex         int     `json:"end_index"`
}

// StreamData is a single stream channel keyed by type.
type StreamData[T any] struct {
	Data         []T    `json:"data"`
	SeriesType   string `json:"series_type"`
	OriginalSize int    `json:"original_size"`
	Resolution   string `json:"resolution"`
}

// Streams holds the per-channel time series for one activity.
type Streams struct {
	Time           *StreamData[float64] `json:"time"`
	VelocitySmooth *StreamData[float64] `json:"velocity_smooth"`
	Heartrate      *StreamData[float64] `json:"heartrate"`
	Distance       *StreamData[float64] `json:"distance"`
	Moving         *StreamData[bool]    `json:"moving"`
}

// Len returns the sample count, or 0 when the time channel is missing.
func (s *Streams) Len() int {
	if s == nil || s.Time == nil {
		return 0
	}
	return len(s.Time.Data)
}

// Channel names accepted by the streams endpoint.
var AnalysisChannels = []string{"time", "velocity_smooth", "heartrate", "distance", "moving"}

// WebhookEvent is a platform push notification.
type WebhookEvent struct {
	ObjectType string            `json:"object_type"`
	ObjectID   int64             `json:"object_id"`
	AspectType string            `json:"aspect_type"`
	OwnerID    int64             `json:"owner_id"`
	EventTime  int64             `json:"event_time"`
	Updates    map[string]string `json:"updates"`
}
