package extract

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// maxBodyBytes bounds how much of a tax portal page we read. Bills are
// small; anything larger is a misbehaving source.
const maxBodyBytes = 4 << 20

// Fetcher performs the raw HTTP fetch for strategies, consulting the
// per-run response cache first. A cache hit skips the network but the
// caller still parses the returned body.
type Fetcher struct {
	cache     *ResponseCache
	userAgent string
}

// NewFetcher creates a Fetcher backed by the given cache.
func NewFetcher(cache *ResponseCache, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = "taxbill-cli/1.0"
	}
	return &Fetcher{cache: cache, userAgent: userAgent}
}

// Cached reports whether a URL would be served from cache.
func (f *Fetcher) Cached(url string) bool {
	return f.cache != nil && f.cache.Contains(url)
}

// Get fetches a URL through the session's client, returning the body
// and whether it came from cache. Failures are classified into the
// engine's error taxonomy so the retry policy can decide retryability.
func (f *Fetcher) Get(ctx context.Context, sess *resilience.Session, url string) ([]byte, bool, error) {
	if f.cache != nil {
		if body, ok := f.cache.Get(url); ok {
			zap.L().Debug("fetch: cache hit", zap.String("url", url))
			return body, true, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := sess.Client.Do(req)
	if err != nil {
		return nil, false, resilience.NewNetworkError(eris.Wrapf(err, "fetch: get %s", url), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, false, classifyStatus(resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, false, resilience.NewNetworkError(eris.Wrapf(err, "fetch: read body %s", url), resp.StatusCode)
	}

	if f.cache != nil {
		f.cache.Set(url, body)
	}
	return body, false, nil
}

func classifyStatus(status int, url string) error {
	err := eris.Errorf("fetch: http %d from %s", status, url)
	switch {
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewNetworkError(err, status)
	case status == http.StatusNotFound || status == http.StatusGone:
		return resilience.NewParseNotFoundError(err)
	default:
		// Other 4xx: the source rejected this request for good; retrying
		// the same item won't change the answer.
		return &resilience.ExtractError{Kind: resilience.KindUnknown, Err: err, StatusCode: status}
	}
}
