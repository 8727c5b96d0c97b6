package concat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
)

type fetcher struct {
	client  *http.Client
	keyHost string
	key     string
	logger  *slog.Logger
}

func newFetcher(timeout time.Duration) *fetcher {
	return &fetcher{client: &http.Client{Timeout: timeout}, logger: logging.NewNop()}
}

// fetch materializes an http(s) URL, data: URI, or local path at dest.
func (f *fetcher) fetch(ctx context.Context, ref, dest string) error {
	switch {
	case hasPrefixFold(ref, "data:"):
		data, _, err := generation.DecodeDataURI(ref)
		if err != nil {
			return err
		}
		return writeAtomic(dest, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
	case hasPrefixFold(ref, "http://"), hasPrefixFold(ref, "https://"):
		return f.fetchHTTP(ctx, ref, dest)
	default:
		return copyLocal(ref, dest)
	}
}

func (f *fetcher) fetchHTTP(ctx context.Context, ref, dest string) error {
	target := f.withKey(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("new request for %s: %w", redact(ref), scrubURL(err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", redact(ref), scrubURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download %s: http %d: %s", redact(ref), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var written int64
	err = writeAtomic(dest, func(w io.Writer) error {
		n, err := io.Copy(w, resp.Body)
		written = n
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", redact(ref), err)
	}
	f.logger.Debug("clip downloaded", logging.String("source", redact(ref)), logging.Int64("bytes", written))
	return nil
}

func (f *fetcher) withKey(ref string) string {
	if f.key == "" || f.keyHost == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil || !strings.EqualFold(parsed.Hostname(), f.keyHost) {
		return ref
	}
	query := parsed.Query()
	if query.Get("key") != "" {
		return ref
	}
	query.Set("key", f.key)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func copyLocal(ref, dest string) error {
	path, err := config.ExpandPath(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open local clip: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local clip: %w", err)
	}
	if info.IsDir() {
		return errors.New("local clip is a directory")
	}
	return writeAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

func writeAtomic(dest string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// isRemote reports whether ref is fetched over http(s) or decoded inline
// rather than copied from the local filesystem.
func isRemote(ref string) bool {
	return hasPrefixFold(ref, "http://") || hasPrefixFold(ref, "https://") || hasPrefixFold(ref, "data:")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// scrubURL drops the query string from the URL carried by a transport
// error; net/http embeds the full request URL, key included.
func scrubURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redact(urlErr.URL)
	}
	return err
}

// redact strips the query string so API keys never reach logs.
func redact(ref string) string {
	if idx := strings.IndexByte(ref, '?'); idx >= 0 {
		return ref[:idx]
	}
	return ref
}

func backendHost(baseURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
