// Package urlnorm makes root-relative resource URLs in extracted markup absolute,
// so images keep working once the markup is pasted somewhere else.
package urlnorm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrBadBase is returned when the base is not an absolute http(s) URL.
var ErrBadBase = errors.New("urlnorm: base must be an absolute URL")

// cssURL matches url(...) with optional single or double quotes.
var cssURL = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)

// Origin reduces a page URL to scheme://host.
func Origin(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadBase, pageURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Normalize rewrites root-relative URLs in img[src], img[srcset],
// source[srcset] and inline style url(...) to base+url. Everything else,
// including every tag it does not rewrite, is copied through byte for byte,
// so Normalize(Normalize(x)) == Normalize(x).
func Normalize(fragment, base string) (string, error) {
	origin, err := Origin(base)
	if err != nil {
		return "", err
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var out bytes.Buffer
	out.Grow(len(fragment) + 64)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return out.String(), nil
			}
			return "", fmt.Errorf("urlnorm: tokenizing fragment: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			if rewriteTag(&tok, origin) {
				out.WriteString(tok.String())
			} else {
				out.Write(raw)
			}
		default:
			out.Write(z.Raw())
		}
	}
}

func rewriteTag(tok *html.Token, origin string) bool {
	changed := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Namespace != "" {
			continue
		}
		var v string
		switch {
		case a.Key == "src" && tok.Data == "img":
			v = absolute(a.Val, origin)
		case a.Key == "srcset" && (tok.Data == "img" || tok.Data == "source"):
			v = rewriteSrcset(a.Val, origin)
		case a.Key == "style":
			v = rewriteStyle(a.Val, origin)
		default:
			continue
		}
		if v != a.Val {
			a.Val = v
			changed = true
		}
	}
	return changed
}

func isRootRelative(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//")
}

func absolute(u, origin string) string {
	trimmed := strings.TrimSpace(u)
	if !isRootRelative(trimmed) {
		return u
	}
	return origin + trimmed
}

// rewriteSrcset handles "url descriptor, url descriptor". Descriptors are kept.
func rewriteSrcset(srcset, origin string) string {
	entries := strings.Split(srcset, ",")
	changed := false
	for i, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		u, desc, _ := strings.Cut(trimmed, " ")
		if !isRootRelative(u) {
			continue
		}
		rebuilt := origin + u
		if desc = strings.TrimSpace(desc); desc != "" {
			rebuilt += " " + desc
		}
		entries[i] = rebuilt
		changed = true
	}
	if !changed {
		return srcset
	}
	for i := range entries {
		entries[i] = strings.TrimSpace(entries[i])
	}
	return strings.Join(entries, ", ")
}

func rewriteStyle(style, origin string) string {
	if !strings.Contains(style, "url(") {
		return style
	}
	return cssURL.ReplaceAllStringFunc(style, func(m string) string {
		sub := cssURL.FindStringSubmatch(m)
		if !isRootRelative(sub[2]) {
			return m
		}
		return "url(" + sub[1] + origin + sub[2] + sub[3] + ")"
	})
}
