package serialize

import (
	"net/url"
	"strings"

	"github.com/gorilla/css/scanner"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// AbsoluteCSS rewrites relative url(...) references of css against base.
// Text the tokenizer cannot read is kept as is.
func AbsoluteCSS(css, base string) string {
	if base == "" || !strings.Contains(css, "url(") {
		return css
	}
	var b strings.Builder
	b.Grow(len(css))
	s := scanner.New(css)
	consumed := 0
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF {
			break
		}
		if tok.Type == scanner.TokenError {
			b.WriteString(css[min(consumed, len(css)):])
			return b.String()
		}
		consumed += len(tok.Value)
		if tok.Type == scanner.TokenURI {
			b.WriteString(rewriteURI(tok.Value, base))
			continue
		}
		b.WriteString(tok.Value)
	}
	return b.String()
}

// rewriteURI rewrites one url(...) token.
func rewriteURI(tok, base string) string {
	inner := strings.TrimSpace(tok[len("url(") : len(tok)-1])
	quote := ""
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		quote = inner[:1]
		inner = inner[1 : len(inner)-1]
	}
	if inner == "" || strings.HasPrefix(inner, "data:") || strings.HasPrefix(inner, "#") {
		return tok
	}
	abs := resolveURL(inner, base)
	if abs == inner {
		return tok
	}
	return "url(" + quote + abs + quote + ")"
}

// resolveURL resolves ref against base, returning ref unchanged when
// either does not parse.
func resolveURL(ref, base string) string {
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// baseURL returns the document base URL, honouring the first <base href>.
func baseURL(d *dom.Document) string {
	if d == nil {
		return ""
	}
	if head := d.Head(); head != nil {
		for _, c := range head.Children() {
			if c.Type == dom.ElementNode && c.Name == "base" {
				if href, ok := c.Attr("href"); ok {
					return resolveURL(href, d.URL)
				}
			}
		}
	}
	return d.URL
}
