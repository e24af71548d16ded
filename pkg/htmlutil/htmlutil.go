package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText concatenates every text node under node.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		getTextRecursive(child, buffer)
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// Clean drops non-printable characters, trims the string and collapses inner whitespace
// into single spaces.
func Clean(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			b.WriteRune(c)
		}
	}
	return innerWhitespace.ReplaceAllString(strings.TrimSpace(b.String()), " ")
}

// Text is the cleaned text of the first node in sel, empty if sel is empty.
func Text(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return Clean(GetText(sel.Nodes[0]))
}

// Href resolves the href of the first anchor under (or at) sel against base.
func Href(sel *goquery.Selection, base *url.URL) string {
	anchor := sel.Filter("a[href]")
	if anchor.Length() == 0 {
		anchor = sel.Find("a[href]")
	}
	href, ok := anchor.First().Attr("href")
	if !ok {
		return ""
	}
	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		link = base.ResolveReference(link)
	}
	return link.String()
}
