package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

// apiKeyParam matches the key query parameter the Gemini file endpoints
// authenticate with.
var apiKeyParam = regexp.MustCompile(`(?i)([?&]key=)[^&\s"']+`)

// Redact masks API key query parameters embedded in s, such as the URLs
// carried by download errors.
func Redact(s string) string {
	return apiKeyParam.ReplaceAllString(s, "${1}REDACTED")
}

// redactValue rewrites string and error values so no handler ever writes a
// key= parameter.
func redactValue(v slog.Value) slog.Value {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if s := v.String(); apiKeyParam.MatchString(s) {
			return slog.StringValue(Redact(s))
		}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.StringValue(Redact(err.Error()))
		}
	}
	return v
}

// attrString renders a value unquoted, for the component prefix.
func attrString(v slog.Value) string {
	v = redactValue(v)
	if v.Kind() == slog.KindAny {
		return fmt.Sprint(v.Any())
	}
	return formatValue(v)
}

// formatValue renders a console key=value value, quoting when needed.
func formatValue(v slog.Value) string {
	v = redactValue(v)
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		s = fmt.Sprint(v.Any())
	default:
		s = v.String()
	}
	if needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
