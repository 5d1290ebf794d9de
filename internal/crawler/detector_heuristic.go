package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSPAMarkers are fragments that show up in client-rendered shells.
var DefaultSPAMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`ng-version=`,
	`data-reactroot`,
	`please enable javascript`,
	`you need to enable javascript`,
}

// HeuristicDetector decides from the static body whether a page needs a
// headless render.
type HeuristicDetector struct {
	minHTMLBytes int
	minTextChars int
	markers      [][]byte
}

// NewHeuristicDetector constructs a detector. Bodies smaller than minBytes,
// bodies carrying a marker, and script-heavy bodies with less than
// minTextChars of visible text are promoted.
func NewHeuristicDetector(minBytes, minTextChars int, markers []string) *HeuristicDetector {
	lower := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(m)))
	}
	return &HeuristicDetector{
		minHTMLBytes: minBytes,
		minTextChars: minTextChars,
		markers:      lower,
	}
}

// NeedsJS inspects body for signals that it is rendered client-side.
func (d *HeuristicDetector) NeedsJS(body []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(body):
		return true
	case d.containsMarker(body):
		return true
	default:
		return d.scriptHeavy(body)
	}
}

func (d *HeuristicDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *HeuristicDetector) containsMarker(body []byte) bool {
	if len(body) == 0 || len(d.markers) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lowerBody, m) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) scriptHeavy(body []byte) bool {
	if d.minTextChars <= 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find("script").Length() == 0 {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return len(text) < d.minTextChars
}
