// Package assets persists plans, generated assets and companion chat sessions
// in SQLite.
//
// Asset writes are upserts keyed by (plan id, asset type, index), so the
// recorder can replay slot events without producing duplicates. The optional
// GCS mirror copies combined videos to a bucket with a does-not-exist
// precondition, treating an existing object as already mirrored.
package assets
