// Package citations extracts and merges source references from research
// agent output. Markdown inline links are the common denominator across
// providers; Perplexity additionally returns an API-native source list.
package citations

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/metadeep/orchestrator/internal/models"
)

// markdownLinkPattern matches inline links like [title](url).
// Compiled once at package level.
var markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)

// ExtractFromText scans free text for [title](url) references, keeps only
// http/https URLs, deduplicates by exact URL preserving first-seen order,
// and tags each entry with the owning agent.
func ExtractFromText(text string, agent models.AgentName) []models.Citation {
	matches := markdownLinkPattern.FindAllStringSubmatch(text, -1)
	out := make([]models.Citation, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		title, url := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, models.Citation{
			Title:       title,
			URL:         url,
			SourceAgent: string(agent),
		})
	}
	return out
}

// ExtractWithNative combines provider-native source URLs with the markdown
// scan of the same output. Native entries carry no titles and get synthetic
// "Source N" ones; they are listed first and take precedence over markdown
// duplicates of the same URL.
func ExtractWithNative(text string, nativeURLs []string, agent models.AgentName) []models.Citation {
	out := make([]models.Citation, 0, len(nativeURLs))
	seen := make(map[string]struct{}, len(nativeURLs))
	for _, url := range nativeURLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		// Number by kept entries so skipped duplicates leave no gaps.
		out = append(out, models.Citation{
			Title:       fmt.Sprintf("Source %d", len(out)+1),
			URL:         url,
			SourceAgent: string(agent),
		})
	}
	for _, c := range ExtractFromText(text, agent) {
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}
