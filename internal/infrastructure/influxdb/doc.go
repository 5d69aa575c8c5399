// Package influxdb records playout metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with a non-blocking
// write API so that a dispatch loop never waits on the metrics server.
//
// # Measurements
//
//   - playout_job: wait and run time of every job, tagged by queue, job name and status
//   - playout_take: one point per take with the gap since the previous take
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off; a nil *Client drops every sample
//	}
//	defer client.Close()
//
//	client.WriteJobMetric(influxdb.JobSample{Queue: "playout:studio-a", Name: "takeNextPart", ...})
package influxdb
