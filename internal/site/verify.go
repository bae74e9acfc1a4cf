package site

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// Issue is a non-fatal finding from Verify.
type Issue struct {
	File    string
	Message string
}

// Verify parses the root index.html, extracts its meta refresh target and
// checks that the target exists in the tree. It never fails the run.
func Verify(siteDir string) []Issue {
	data, err := os.ReadFile(filepath.Join(siteDir, IndexFile))
	if err != nil {
		return []Issue{{File: IndexFile, Message: "root index.html missing"}}
	}
	target, ok := RefreshTarget(data)
	if !ok {
		return []Issue{{File: IndexFile, Message: "no meta refresh directive found"}}
	}
	if strings.Contains(target, "://") || strings.HasPrefix(target, "/") {
		return nil
	}
	rel := path.Clean(target)
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return []Issue{{File: IndexFile, Message: "redirect target escapes the site: " + target}}
	}
	if _, err := os.Stat(filepath.Join(siteDir, filepath.FromSlash(rel))); err != nil {
		return []Issue{{File: IndexFile, Message: "redirect target not generated: " + target}}
	}
	return nil
}

// RefreshTarget returns the url of the first <meta http-equiv="refresh"> element.
func RefreshTarget(page []byte) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", false
	}
	var found string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var equiv, content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "http-equiv":
					equiv = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(equiv, "refresh") {
				if u, ok := parseRefreshContent(content); ok {
					found = u
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return found, walk(doc)
}

// parseRefreshContent extracts the url from "0; url=target".
func parseRefreshContent(content string) (string, bool) {
	_, rest, ok := strings.Cut(content, ";")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 4 || !strings.EqualFold(rest[:4], "url=") {
		return "", false
	}
	u := strings.Trim(strings.TrimSpace(rest[4:]), `"'`)
	return u, u != ""
}
