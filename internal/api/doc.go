// Package api serves the HTTP control surface for load tests.
//
// Routes:
//
//	GET  /api/status   running flag, record counts and the last run summary
//	GET  /api/metrics  in-process metrics snapshot
//	POST /api/run      start a run: {"data_file", "threads", "max_attempts", "backend"}
//	POST /api/stop     cancel the running load test
//	GET  /api/presets  available presets
//	GET  /metrics      Prometheus exposition
//	     /ws           websocket stream of run events
//
// Only one load test runs at a time; a second POST /api/run answers 409.
package api
