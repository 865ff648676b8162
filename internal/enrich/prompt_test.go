package enrich_test

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/shpitdev/leadsync/internal/enrich"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestAnalysisPromptGolden(t *testing.T) {
	out, err := enrich.AnalysisPrompt("  Cafe X ", enrich.Document{
		URL:   "http://cafex.test",
		Title: "Cafe X | Home",
		Text:  "\n Fresh coffee daily. Call 098765 43210. Follow us on instagram.com/cafex \n",
	}, 0)
	require.NoError(t, err)
	newGolden(t).Assert(t, "analysis_prompt", []byte(out))
}

func TestFollowupPromptGolden(t *testing.T) {
	out, err := enrich.FollowupPrompt("Cafe X", "1. No mobile layout.\n2. Menu is a scanned image.\n3. Phone number is not clickable.\n")
	require.NoError(t, err)
	newGolden(t).Assert(t, "followup_prompt", []byte(out))
}

func TestAnalysisPromptTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 10) // 2 bytes each
	out, err := enrich.AnalysisPrompt("Cafe", enrich.Document{URL: "http://x.test", Text: text}, 5)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\néé"), "got %q", out)
	assert.NotContains(t, out, "Page title:")
}

func TestSlugAndPreviewURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "joes-diner-grill", enrich.Slug("Joe's Diner & Grill"))
	assert.Equal(t, "https://preview.test/sites/cafe-x", enrich.PreviewURL("https://preview.test/sites/{slug}", "Cafe X!"))
	assert.Empty(t, enrich.PreviewURL("", "Cafe X"))
}
