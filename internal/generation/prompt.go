package generation

import (
	"fmt"
	"strings"
)

const noContext = "No document context was retrieved."

// BuildPrompt renders the analytical answer prompt. Excerpts are numbered in
// the order given and tagged with their source.
func BuildPrompt(question string, excerpts []Excerpt) string {
	var ctx strings.Builder
	if len(excerpts) == 0 {
		ctx.WriteString(noContext)
	}
	for i, e := range excerpts {
		if i > 0 {
			ctx.WriteString("\n\n")
		}
		fmt.Fprintf(&ctx, "[%d] [source: %s]\n%s", i+1, e.SourceRef, e.Text)
	}

	return fmt.Sprintf(`Based on the following research documents, please provide a concise, analytical answer to the question: %q

Context from documents:
%s

Please provide:
1. A direct answer to the question
2. Key insights or findings
3. Relevant data points or evidence
4. Any limitations or caveats

Format your response as clear, human-readable insights suitable for internal research analysis.`, question, ctx.String())
}
