package concat

import (
	"fmt"
	"strings"

	"storyloom/internal/services"
)

// NoVideosError reports that no usable clip references were supplied.
type NoVideosError struct{}

func (e *NoVideosError) Error() string { return "no videos to combine" }

func (e *NoVideosError) Unwrap() error { return services.ErrValidation }

// ConcatenationError reports a failure after inputs were accepted:
// materializing a clip, running ffmpeg, or verifying the output.
type ConcatenationError struct {
	Output string
	Stderr string
	Err    error
}

func (e *ConcatenationError) Error() string {
	var b strings.Builder
	b.WriteString("concatenate videos")
	if e.Output != "" {
		fmt.Fprintf(&b, " into %s", e.Output)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ConcatenationError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrExternalTool}
	}
	return []error{services.ErrExternalTool, e.Err}
}

// LocalInputError reports an input that would be read from the local
// filesystem where only http(s) URLs and data: URIs are accepted.
type LocalInputError struct {
	Index int
	Ref   string
}

func (e *LocalInputError) Error() string {
	return fmt.Sprintf("video %d (%s) must be an http(s) URL or data: URI", e.Index+1, redact(e.Ref))
}

func (e *LocalInputError) Unwrap() error { return services.ErrValidation }

// RequireRemote rejects refs that would be copied from the local
// filesystem. Blank entries are ignored, matching Concat.
func RequireRemote(refs []string) error {
	for i, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || isRemote(ref) {
			continue
		}
		return &LocalInputError{Index: i, Ref: ref}
	}
	return nil
}
