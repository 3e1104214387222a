package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metadeep/orchestrator/internal/models"
)

func TestExtractFromText(t *testing.T) {
	text := "See [Fed minutes](https://fed.example.com/minutes) and " +
		"[NASDAQ data](http://nasdaq.example.com/q2). " +
		"Ignore [relative link](/docs) and [ftp mirror](ftp://mirror.example.com). " +
		"Repeated: [Fed again](https://fed.example.com/minutes)."

	got := ExtractFromText(text, models.AgentGemini)
	require.Len(t, got, 2)
	assert.Equal(t, "Fed minutes", got[0].Title)
	assert.Equal(t, "https://fed.example.com/minutes", got[0].URL)
	assert.Equal(t, "gemini", got[0].SourceAgent)
	assert.Equal(t, "http://nasdaq.example.com/q2", got[1].URL)
}

func TestExtractFromTextIsIdempotent(t *testing.T) {
	text := "[a](https://a.example.com) [b](https://b.example.com)"
	first := ExtractFromText(text, models.AgentOpenAI)
	second := ExtractFromText(text, models.AgentOpenAI)
	assert.Equal(t, first, second)
}

func TestExtractFromTextEmpty(t *testing.T) {
	assert.Empty(t, ExtractFromText("no links here", models.AgentGemini))
	assert.Empty(t, ExtractFromText("", models.AgentGemini))
}

func TestExtractWithNative(t *testing.T) {
	text := "Markdown [report](https://a.example.com) and [other](https://c.example.com)."
	native := []string{"https://a.example.com", "https://b.example.com"}

	got := ExtractWithNative(text, native, models.AgentPerplexity)
	require.Len(t, got, 3)

	// Native entries come first with synthetic titles and win URL conflicts.
	assert.Equal(t, "Source 1", got[0].Title)
	assert.Equal(t, "https://a.example.com", got[0].URL)
	assert.Equal(t, "Source 2", got[1].Title)
	assert.Equal(t, "https://b.example.com", got[1].URL)
	assert.Equal(t, "other", got[2].Title)
	assert.Equal(t, "https://c.example.com", got[2].URL)
}

func TestExtractWithNativeNumbersKeptEntries(t *testing.T) {
	native := []string{"https://a.example.com", "", "https://a.example.com", "https://b.example.com"}

	got := ExtractWithNative("", native, models.AgentPerplexity)
	require.Len(t, got, 2)

	// Skipped blanks and duplicates leave no gaps in the numbering.
	assert.Equal(t, "Source 1", got[0].Title)
	assert.Equal(t, "https://a.example.com", got[0].URL)
	assert.Equal(t, "Source 2", got[1].Title)
	assert.Equal(t, "https://b.example.com", got[1].URL)
}

func TestMergeCombinesAgents(t *testing.T) {
	gemini := []models.Citation{
		{Title: "Shared", URL: "https://shared.example.com", SourceAgent: "gemini"},
		{Title: "Gemini only", URL: "https://g.example.com", SourceAgent: "gemini"},
	}
	perplexity := []models.Citation{
		{Title: "Shared again", URL: "https://shared.example.com", SourceAgent: "perplexity"},
	}

	merged := Merge(gemini, perplexity)
	require.Len(t, merged, 2)
	assert.Equal(t, "Shared", merged[0].Title)
	assert.Equal(t, "gemini, perplexity", merged[0].SourceAgent)
	assert.Equal(t, "gemini", merged[1].SourceAgent)

	// Order-independent agent attribution.
	reversed := Merge(perplexity, gemini)
	require.Len(t, reversed, 2)
	assert.Equal(t, "perplexity, gemini", reversed[0].SourceAgent)
}

func TestMergeNoDuplicateAgentNames(t *testing.T) {
	a := []models.Citation{{Title: "x", URL: "https://x.example.com", SourceAgent: "openai"}}
	b := []models.Citation{{Title: "x", URL: "https://x.example.com", SourceAgent: "openai"}}
	merged := Merge(a, b)
	require.Len(t, merged, 1)
	assert.Equal(t, "openai", merged[0].SourceAgent)
}
