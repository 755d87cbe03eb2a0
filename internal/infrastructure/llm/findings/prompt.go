package findings

import (
	"fmt"
	"strings"
)

// MaxPromptChars bounds the document excerpt sent to a model.
const MaxPromptChars = 8000

const outputFormat = `Return strict JSON only, no markdown:
{
  "overall_status": "pass|fail|warning",
  "overall_score": 0-100,
  "issues": [
    {
      "severity": "critical|warning|info",
      "title": "string",
      "description": "string",
      "regulation": {"regulation": "FAR|DFARS|EO", "section": "string", "title": "string", "url": "string"},
      "remediation": "string",
      "confidence": 0-1
    }
  ]
}`

// BuildPrompt renders the analysis instruction for one persona. An empty
// persona yields the general compliance analyst prompt.
func BuildPrompt(persona, filename string, frameworks []string, text string) string {
	if persona == "" {
		persona = "You are an expert compliance analyst for federal proposals."
	}
	if len([]rune(text)) > MaxPromptChars {
		text = string([]rune(text)[:MaxPromptChars])
	}

	return fmt.Sprintf(`%s

Analyze the document %q against these frameworks: %s.
Report each discrepancy as an issue with severity and exact citation.

%s

Document:
%s
`, strings.TrimSpace(persona), filename, strings.Join(frameworks, ", "), outputFormat, text)
}
