package lineage

import "strings"

var riskKeywords = []string{
	"synthetic",
	"model-generated",
	"machine-generated",
	"uncurated",
	"web-crawl",
	"webcrawl",
	"common-crawl",
	"commoncrawl",
	"unfiltered",
}

// FlagProblematic reports whether a dataset record carries markers of
// synthetic or uncurated provenance. Models are never flagged.
func FlagProblematic(rec Record) bool {
	if rec.Kind != KindDataset {
		return false
	}

	haystack := strings.ToLower(rec.ID)
	for _, tag := range rec.Tags {
		haystack += " " + strings.ToLower(tag)
	}

	for _, kw := range riskKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
