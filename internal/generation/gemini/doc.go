// Package gemini implements generation.Backend and generation.Chatter on the
// Gemini API through the google.golang.org/genai SDK (API key backend).
//
// Plans use structured JSON output with an ordered model fallback chain,
// images use the image model with an inline reference part, and clips use
// GenerateVideos with operation polling. SDK API errors are mapped to
// generation.StatusError; transient failures (408, 429, 5xx, network
// timeouts) are retried with exponential backoff that honours RetryInfo.
// Video URIs are returned without the API key.
package gemini
