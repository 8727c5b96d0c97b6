// Package ffprobe wraps the ffprobe binary for verifying concatenated story
// videos: stream counts, resolution, and duration.
package ffprobe
