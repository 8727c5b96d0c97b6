// Package daemon runs the storyloom HTTP API.
//
// A Daemon owns one data directory (guarded by a flock lock), the asset
// store, and a registry of in-flight runs. Every run gets its own
// pipeline.Orchestrator driven by a single goroutine; HTTP handlers only read
// snapshots. Routes are served by gin.
package daemon
