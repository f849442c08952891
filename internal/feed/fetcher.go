package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/groundtrack/internal/logging"
)

// DefaultSourceURL is the CelesTrak space stations group in plain TLE form.
const DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle"

// maxBodyBytes caps a single feed response.
const maxBodyBytes = 50 << 20

// ErrFeedUnavailable wraps every failure to retrieve the element feed.
var ErrFeedUnavailable = errors.New("element feed unavailable")

// Fetcher retrieves raw TLE text from a primary source plus optional extra
// sources. Sources may be http(s) URLs, file:// URLs or plain paths.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	log        logging.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithExtraURLs appends best-effort sources whose failures are only logged.
func WithExtraURLs(urls ...string) FetcherOption {
	return func(f *Fetcher) {
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				f.extraURLs = append(f.extraURLs, u)
			}
		}
	}
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// NewFetcher creates a Fetcher for the given source; empty uses DefaultSourceURL.
func NewFetcher(sourceURL string, log logging.Logger, opts ...FetcherOption) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	if log == nil {
		log = logging.Noop()
	}
	f := &Fetcher{
		sourceURL:  sourceURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SourceURL returns the configured primary source.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch retrieves the primary source, then appends each extra source that
// succeeds. Only a primary failure is returned, wrapped in ErrFeedUnavailable.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.fetchOne(ctx, f.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	for _, u := range f.extraURLs {
		extra, err := f.fetchOne(ctx, u)
		if err != nil {
			f.log.Warn(ctx, "extra feed source failed", logging.String("source", u), logging.Err(err))
			continue
		}
		if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n")) {
			body = append(body, '\n')
		}
		body = append(body, extra...)
	}
	return body, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, source string) ([]byte, error) {
	if path, ok := localPath(source); ok {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening feed file: %w", err)
		}
		defer file.Close()
		return readLimited(file, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, source)
	}
	return readLimited(resp.Body, source)
}

func readLimited(r io.Reader, source string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%s exceeds %d byte limit", source, maxBodyBytes)
	}
	return body, nil
}

// localPath reports whether source names a file rather than a URL.
func localPath(source string) (string, bool) {
	if p, ok := strings.CutPrefix(source, "file://"); ok {
		return p, true
	}
	if strings.Contains(source, "://") {
		return "", false
	}
	return source, true
}
