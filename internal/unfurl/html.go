package unfurl

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/kajgg/kaj-server/internal/model"
)

// sanitizer strips any markup that survives in meta content before it is
// echoed to every client in the channel.
var sanitizer = bluemonday.StrictPolicy()

var (
	hex6RE = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	hex3RE = regexp.MustCompile(`^#[0-9a-fA-F]{3}$`)
)

// pageMeta is everything the parser pulls out of one HTML document.
type pageMeta struct {
	ogTitle       string
	titleTag      string
	ogDescription string
	metaDesc      string
	ogImage       string
	ogURL         string
	canonical     string
	ogSiteName    string
	themeColor    string
}

// parseHTMLEmbed extracts an embed from an HTML page, resolving relative
// URLs against the final (post-redirect) address. Returns nil when the page
// yields an empty shell.
func parseHTMLEmbed(raw []byte, finalURL, originalURL string) *model.Embed {
	meta := extractMeta(raw)

	base, _ := url.Parse(finalURL)

	embed := model.Embed{}
	if title := sanitizeText(firstNonEmpty(meta.ogTitle, meta.titleTag)); title != "" {
		embed.Title = &title
	}
	if desc := sanitizeText(firstNonEmpty(meta.ogDescription, meta.metaDesc)); desc != "" {
		embed.Description = &desc
	}
	if img := resolveURL(base, meta.ogImage); img != "" {
		embed.ImageURL = &img
	}
	if u := resolveURL(base, firstNonEmpty(meta.ogURL, meta.canonical, finalURL, originalURL)); u != "" {
		embed.URL = &u
	}
	if footer := sanitizeText(meta.ogSiteName); footer != "" {
		embed.Footer = &footer
	}
	if color := normalizeColor(meta.themeColor); color != "" {
		embed.Color = &color
	}

	if embed.Empty() {
		return nil
	}
	return &embed
}

// extractMeta walks the document tree once, collecting the tags the embed
// builder cares about.
func extractMeta(raw []byte) pageMeta {
	var meta pageMeta

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return meta
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				property := attr(n, "property")
				name := attr(n, "name")
				content := attr(n, "content")
				switch {
				case property == "og:title" && meta.ogTitle == "":
					meta.ogTitle = content
				case property == "og:description" && meta.ogDescription == "":
					meta.ogDescription = content
				case property == "og:image" && meta.ogImage == "":
					meta.ogImage = content
				case property == "og:url" && meta.ogURL == "":
					meta.ogURL = content
				case property == "og:site_name" && meta.ogSiteName == "":
					meta.ogSiteName = content
				case name == "description" && meta.metaDesc == "":
					meta.metaDesc = content
				case (property == "theme-color" || name == "theme-color") && meta.themeColor == "":
					meta.themeColor = content
				}
			case "title":
				if meta.titleTag == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.titleTag = n.FirstChild.Data
				}
			case "link":
				if attr(n, "rel") == "canonical" && meta.canonical == "" {
					meta.canonical = attr(n, "href")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func sanitizeText(s string) string {
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

// normalizeColor accepts #rrggbb and expands #rgb; anything else is dropped.
func normalizeColor(value string) string {
	v := strings.TrimSpace(value)
	if hex6RE.MatchString(v) {
		return strings.ToLower(v)
	}
	if hex3RE.MatchString(v) {
		var sb strings.Builder
		sb.WriteByte('#')
		for _, c := range v[1:] {
			sb.WriteRune(c)
			sb.WriteRune(c)
		}
		return strings.ToLower(sb.String())
	}
	return ""
}

// resolveURL resolves ref against base, tolerating a nil base.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}
