// Package concat joins generated clips into one story video with the ffmpeg
// concat demuxer.
//
// Inputs may be http(s) URLs, base64 data: URIs, or local paths. They are
// materialized into a per-call scratch directory under the work dir with a
// bounded number of concurrent downloads, listed in a concat.txt file, and
// stream-copied into <output_dir>/combined_<id>.mp4. The scratch directory
// is removed on every exit path. A single input is returned untouched and
// an empty input list is rejected before any work starts.
package concat
