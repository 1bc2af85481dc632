package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_NumbersExcerptsInOrder(t *testing.T) {
	prompt := BuildPrompt("What color is the sky?", []Excerpt{
		{ID: "a:0", Text: "The sky is blue.", SourceRef: "a"},
		{ID: "b:0", Text: "Grass is green.", SourceRef: "b"},
	})

	assert.Contains(t, prompt, `"What color is the sky?"`)
	first := strings.Index(prompt, "[1] [source: a]\nThe sky is blue.")
	second := strings.Index(prompt, "[2] [source: b]\nGrass is green.")
	assert.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)
	assert.NotContains(t, prompt, noContext)
	assert.Contains(t, prompt, "4. Any limitations or caveats")
}

func TestBuildPrompt_EmptyContext(t *testing.T) {
	prompt := BuildPrompt("Why?", nil)
	assert.Contains(t, prompt, noContext)
	assert.NotContains(t, prompt, "[1]")
}
