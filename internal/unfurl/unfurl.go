// Package unfurl turns links in message content into rich embeds. It fetches
// each URL with tight limits, classifies the resource (direct media, HTML
// page, or junk) and extracts Open Graph metadata from pages. Failures never
// propagate; a URL that cannot be unfurled simply yields no embed.
package unfurl

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kajgg/kaj-server/internal/model"
)

const (
	totalTimeout   = 8 * time.Second
	connectTimeout = 3 * time.Second
	readTimeout    = 5 * time.Second
	maxConns       = 10

	userAgent    = "kaj.gg/1.0"
	sniffBytes   = 24 * 1024  // some sites have enormous heads
	maxHTMLBytes = 512 * 1024 // beyond this the page yields no embed
)

// htmlContentTypes are treated as pages to parse rather than media to link.
var htmlContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

// Unfurler fetches link previews. Safe for concurrent use.
type Unfurler struct {
	client *http.Client
	log    zerolog.Logger
}

// New builds an unfurler with its own bounded HTTP client.
func New(logger zerolog.Logger) *Unfurler {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          maxConns,
		MaxConnsPerHost:       maxConns,
		// Compressed bodies would defeat the byte limits below.
		DisableCompression: true,
	}
	return &Unfurler{
		client: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
		},
		log: logger.With().Str("component", "unfurl").Logger(),
	}
}

// Unfurl resolves every unfurlable URL in content concurrently and returns
// the resulting embeds in URL order. It never returns an error; a failed
// fetch is just a missing embed.
func (u *Unfurler) Unfurl(ctx context.Context, content string) []model.Embed {
	urls := ParseURLs(content)
	if len(urls) == 0 {
		return nil
	}

	results := make([]*model.Embed, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, link := range urls {
		g.Go(func() error {
			results[i] = u.fetch(ctx, link)
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Embed
	for _, e := range results {
		if e != nil && !e.Empty() {
			out = append(out, *e)
		}
	}
	return out
}

// fetch resolves one URL to an embed, or nil.
func (u *Unfurler) fetch(ctx context.Context, link string) *model.Embed {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		u.log.Debug().Err(err).Str("url", link).Msg("Unfurl fetch failed")
		return nil
	}
	defer resp.Body.Close()

	// Non-2xx means "no embed", not an error worth surfacing.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	finalURL := link
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	ct := contentType(resp.Header)

	// Clearly media: link it without downloading anything.
	if kind := kindFromContentType(ct); kind != kindNone {
		return mediaEmbed(kind, finalURL)
	}

	if htmlContentTypes[ct] {
		raw, ok := readLimited(resp.Body, maxHTMLBytes)
		if !ok {
			return nil
		}
		return parseHTMLEmbed(raw, finalURL, link)
	}

	// Unknown content type: sniff a prefix in case the server lies.
	prefix := make([]byte, sniffBytes)
	n, _ := io.ReadFull(resp.Body, prefix)
	prefix = prefix[:n]

	if kind := sniffMediaKind(prefix); kind != kindNone {
		return mediaEmbed(kind, finalURL)
	}
	if !looksLikeHTML(prefix) {
		return nil
	}

	rest, ok := readLimited(resp.Body, maxHTMLBytes-len(prefix))
	if !ok {
		return nil
	}
	return parseHTMLEmbed(append(prefix, rest...), finalURL, link)
}

// mediaEmbed builds an embed that links media directly, with only the
// matching media field set.
func mediaEmbed(kind mediaKind, url string) *model.Embed {
	e := &model.Embed{}
	switch kind {
	case kindImage:
		e.ImageURL = &url
	case kindVideo:
		e.VideoURL = &url
	case kindAudio:
		e.AudioURL = &url
	default:
		return nil
	}
	return e
}

// readLimited reads at most limit bytes; a body that exceeds the limit
// yields (nil, false) rather than a truncated document.
func readLimited(r io.Reader, limit int) ([]byte, bool) {
	if limit <= 0 {
		return nil, false
	}
	raw, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil && len(raw) == 0 {
		return nil, false
	}
	if len(raw) > limit {
		return nil, false
	}
	return raw, true
}

// contentType strips parameters like charset from a Content-Type header.
func contentType(h http.Header) string {
	ct := strings.ToLower(h.Get("Content-Type"))
	if i := strings.IndexByte(ct, ';'); i != -1 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
