package parser

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	htmlparser "golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// DefaultIconPath is used when a page declares no icon link
const DefaultIconPath = "/favicon.ico"

var unicodeEscapeRegex = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// Page is what favicon discovery needs from a root document
type Page struct {
	Title    string
	IconRef  string // raw href, or DefaultIconPath
	Declared bool   // false when IconRef is the synthesized fallback
}

// ParsePage decodes body according to contentType (falling back to sniffing)
// and extracts the title and favicon reference.
func ParsePage(body []byte, contentType string) (Page, error) {
	var r io.Reader = bytes.NewReader(body)
	if decoded, err := charset.NewReader(r, contentType); err == nil {
		r = decoded
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse page: %w", err)
	}

	page := Page{IconRef: DefaultIconPath}
	if ref, ok := FindIconRef(doc); ok {
		page.IconRef = ref
		page.Declared = true
	}
	if len(doc.Nodes) > 0 {
		page.Title = extractTitle(doc.Nodes[0])
	}
	return page, nil
}

// FindIconRef returns the href of the first <link rel="shortcut icon">, or
// failing that the first link whose rel list contains "icon".
func FindIconRef(doc *goquery.Document) (string, bool) {
	var shortcut, generic string

	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return true
		}
		rel := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		hasIcon, hasShortcut := false, false
		for _, token := range rel {
			switch token {
			case "icon":
				hasIcon = true
			case "shortcut":
				hasShortcut = true
			}
		}
		if hasIcon && hasShortcut {
			shortcut = href
			return false
		}
		if hasIcon && generic == "" {
			generic = href
		}
		return true
	})

	if shortcut != "" {
		return shortcut, true
	}
	if generic != "" {
		return generic, true
	}
	return "", false
}

// ExtractTitle extracts the page title from a raw body.
// Priority: 1) <title> tag, 2) og:title meta tag, 3) twitter:title meta tag
func ExtractTitle(body string) string {
	doc, err := htmlparser.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return extractTitle(doc)
}

func extractTitle(root *htmlparser.Node) string {
	var htmlTitle, ogTitle, twitterTitle string

	var traverse func(*htmlparser.Node)
	traverse = func(n *htmlparser.Node) {
		if n.Type == htmlparser.ElementNode {
			if n.Data == "title" && htmlTitle == "" && n.FirstChild != nil {
				htmlTitle = n.FirstChild.Data
			}

			if n.Data == "meta" {
				var property, name, content string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "property":
						property = attr.Val
					case "name":
						name = attr.Val
					case "content":
						content = attr.Val
					}
				}
				if property == "og:title" && ogTitle == "" {
					ogTitle = content
				}
				if name == "twitter:title" && twitterTitle == "" {
					twitterTitle = content
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(root)

	for _, title := range []string{htmlTitle, ogTitle, twitterTitle} {
		if title != "" {
			return decodeTitleString(strings.TrimSpace(title))
		}
	}
	return ""
}

// decodeTitleString decodes \uXXXX escapes, then HTML entities
func decodeTitleString(s string) string {
	s = unicodeEscapeRegex.ReplaceAllStringFunc(s, func(match string) string {
		var r rune
		fmt.Sscanf(strings.TrimPrefix(match, `\u`), "%x", &r)
		if utf8.ValidRune(r) {
			return string(r)
		}
		return match
	})
	return html.UnescapeString(s)
}
