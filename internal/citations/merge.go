package citations

import (
	"strings"

	"github.com/metadeep/orchestrator/internal/models"
)

// Merge deduplicates citations across agents by URL. The first occurrence of
// a URL creates the entry; later occurrences from a different agent append
// that agent's name to SourceAgent. Order of first appearance is preserved
// and no agent name is repeated within one entry.
func Merge(sets ...[]models.Citation) []models.Citation {
	merged := make([]models.Citation, 0)
	index := make(map[string]int)
	for _, set := range sets {
		for _, c := range set {
			i, ok := index[c.URL]
			if !ok {
				index[c.URL] = len(merged)
				merged = append(merged, c)
				continue
			}
			if !hasAgent(merged[i].SourceAgent, c.SourceAgent) {
				merged[i].SourceAgent = merged[i].SourceAgent + ", " + c.SourceAgent
			}
		}
	}
	return merged
}

func hasAgent(joined, agent string) bool {
	for _, name := range strings.Split(joined, ",") {
		if strings.TrimSpace(name) == agent {
			return true
		}
	}
	return false
}
