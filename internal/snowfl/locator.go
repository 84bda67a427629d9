package snowfl

import (
	"io"

	"github.com/PuerkitoBio/goquery"
)

// scriptSelector matches script tags that carry a cache-busting version,
// which is how the site references the bundle holding the token.
const scriptSelector = `script[src*="?v="]`

// ScriptLocator finds the src of the versioned script in a front page.
// ok is false when the page has no such script.
type ScriptLocator interface {
	ScriptSrc(r io.Reader) (src string, ok bool, err error)
}

// GoqueryLocator is the default ScriptLocator.
type GoqueryLocator struct {
	Selector string
}

// ScriptSrc parses the page and returns the src of the first match.
func (l GoqueryLocator) ScriptSrc(r io.Reader) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", false, err
	}

	sel := l.Selector
	if sel == "" {
		sel = scriptSelector
	}

	src, ok := doc.Find(sel).First().Attr("src")
	if !ok || src == "" {
		return "", false, nil
	}
	return src, true, nil
}
