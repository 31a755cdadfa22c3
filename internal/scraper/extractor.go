package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"boardwatch/scraper-engine/internal/model"
)

// genericItemSelectors are tried in order when a board has no registered
// selector set. The first selector yielding matches wins.
var genericItemSelectors = []string{
	".job-listing", ".job-card", ".job", "li.listing", "article", "ul li",
}

// maxCandidatesPerPage bounds how many items one page may yield, so a
// pathological generic match cannot flood the pipeline.
const maxCandidatesPerPage = 200

// Extractor turns fetched content into candidate postings. It is best
// effort: malformed input yields fewer (or zero) candidates plus a note for
// the scrape run log, never a hard failure.
type Extractor struct {
	selectors *SelectorRegistry
}

// NewExtractor constructs an Extractor over the given selector registry.
func NewExtractor(selectors *SelectorRegistry) *Extractor {
	return &Extractor{selectors: selectors}
}

// ExtractRSS parses body as a syndication feed. A parse failure returns zero
// candidates and the error for run logging; entries without a link are
// skipped.
func (e *Extractor) ExtractRSS(body []byte) ([]model.Candidate, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	candidates := make([]model.Candidate, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := feedLink(entry)
		if link == "" {
			continue
		}

		c := model.Candidate{
			Title:       strings.TrimSpace(entry.Title),
			URL:         link,
			Summary:     strings.TrimSpace(entry.Description),
			PublishedAt: entry.PublishedParsed,
		}
		if entry.Author != nil {
			c.Company = strings.TrimSpace(entry.Author.Name)
		}
		c.Raw = rawPayload(c)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// ExtractHTML parses body as a DOM and applies the board's selector set, or
// the generic heuristic when none is registered or the registered set
// matches nothing. baseURL resolves relative links. The contract is best
// effort: unexpected markup degrades, it never fails the run.
func (e *Extractor) ExtractHTML(body []byte, boardID, baseURL string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, _ := url.Parse(baseURL)

	if set, ok := e.selectors.Lookup(boardID); ok {
		if candidates := extractHTMLWithSet(doc, set, base); len(candidates) > 0 {
			return candidates, nil
		}
	}
	return extractHTMLGeneric(doc, base), nil
}

func extractHTMLWithSet(doc *goquery.Document, set SelectorSet, base *url.URL) []model.Candidate {
	candidates := make([]model.Candidate, 0)

	doc.Find(set.Item).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		link := item
		if set.Link != "" {
			link = item.Find(set.Link)
		}
		anchor := link.Find("a").AddSelection(link.Filter("a")).First()
		href, _ := anchor.Attr("href")
		href = resolveURL(base, href)
		if href == "" {
			return true
		}

		title := anchor.Text()
		if set.Title != "" {
			title = item.Find(set.Title).First().Text()
		}

		c := model.Candidate{
			Title: strings.TrimSpace(title),
			URL:   href,
		}
		if set.Company != "" {
			c.Company = strings.TrimSpace(item.Find(set.Company).First().Text())
		}
		if set.Date != "" {
			c.PublishedAt = parseListingDate(item.Find(set.Date).First())
		}
		if c.Title == "" {
			return true
		}

		if html, err := goquery.OuterHtml(item); err == nil {
			c.Raw = html
		} else {
			c.Raw = rawPayload(c)
		}
		candidates = append(candidates, c)
		return len(candidates) < maxCandidatesPerPage
	})

	return candidates
}

// extractHTMLGeneric is the degraded path: walk common listing containers
// and harvest anchors that look like posting links.
func extractHTMLGeneric(doc *goquery.Document, base *url.URL) []model.Candidate {
	for _, selector := range genericItemSelectors {
		items := doc.Find(selector)
		if items.Length() < 2 {
			continue
		}

		candidates := make([]model.Candidate, 0, items.Length())
		items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
			anchor := item.Find("a").First()
			href, _ := anchor.Attr("href")
			href = resolveURL(base, href)
			title := strings.TrimSpace(anchor.Text())
			if href == "" || len(title) < 3 {
				return true
			}

			c := model.Candidate{Title: title, URL: href}
			if html, err := goquery.OuterHtml(item); err == nil {
				c.Raw = html
			}
			candidates = append(candidates, c)
			return len(candidates) < maxCandidatesPerPage
		})

		if len(candidates) > 0 {
			return candidates
		}
	}
	return nil
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

// feedLink returns the best available URL from a feed entry, preferring the
// explicit link over a GUID that happens to be a URL.
func feedLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

// parseListingDate accepts the handful of date shapes boards actually emit.
func parseListingDate(sel *goquery.Selection) *time.Time {
	text := strings.TrimSpace(sel.Text())
	if dt, ok := sel.Attr("datetime"); ok {
		text = dt
	}
	if text == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "Jan 2, 2006", "02 Jan 2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}
	return nil
}

func rawPayload(c model.Candidate) string {
	payload, _ := json.Marshal(map[string]any{
		"title":   c.Title,
		"company": c.Company,
		"url":     c.URL,
		"summary": c.Summary,
	})
	return string(payload)
}
