package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Playout Core.
const (
	MeasurementJob  = "playout_job"
	MeasurementTake = "playout_take"
)

// JobSample is one completed job as reported by a dispatch loop.
type JobSample struct {
	Queue    string
	Name     string
	Queued   time.Time
	Started  time.Time
	Finished time.Time
	Failed   bool
}

// TakeSample is one successful take.
type TakeSample struct {
	StudioID     string
	PlaylistID   string
	PartID       string
	TakeTime     time.Time
	SinceLast    time.Duration // time since the previous take, zero for the first
	HoldComplete bool
}

// WriteJobMetric records the wait and run durations of a job.
// A nil or disconnected client drops the sample.
func (c *Client) WriteJobMetric(s JobSample) {
	if !c.IsConnected() {
		return
	}

	status := "ok"
	if s.Failed {
		status = "error"
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementJob,
		map[string]string{
			"queue":  s.Queue,
			"job":    s.Name,
			"status": status,
		},
		map[string]interface{}{
			"wait_ms": s.Started.Sub(s.Queued).Milliseconds(),
			"run_ms":  s.Finished.Sub(s.Started).Milliseconds(),
		},
		s.Finished,
	))
}

// WriteTakeMetric records a take and the gap since the previous one.
func (c *Client) WriteTakeMetric(s TakeSample) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementTake,
		map[string]string{
			"studio_id":   s.StudioID,
			"playlist_id": s.PlaylistID,
		},
		map[string]interface{}{
			"part_id":       s.PartID,
			"since_last_ms": s.SinceLast.Milliseconds(),
			"hold_complete": s.HoldComplete,
		},
		s.TakeTime,
	))
}
