// Package composer builds the outbound prompts sent to the generation
// endpoint. Template text is part of the observable product behavior, so the
// wording here is deliberate.
package composer

import (
	"fmt"
	"strings"
)

// SystemPreface is prepended to every composed prompt before dispatch.
const SystemPreface = "You are a senior developer AI assistant. Respond concisely and clearly. Provide fixes when needed."

const chatTemplate = `You are DevMentor, an expert AI coding mentor.
Respond concisely, clearly, and directly — no greetings, intros, or summaries.
If the user requests code, include only the essential snippet with short inline notes.
Avoid long paragraphs or explanations unless necessary.

User prompt: %s`

const analyzeTemplate = `You are DevMentor, an expert code reviewer.
Analyze the following code and provide a short, structured review:

1. Summary (2-3 lines)
2. Potential Issues (if any)
3. Improvements / Best Practices
4. Optional: Optimized version (only if necessary)

Avoid long paragraphs or repeating the code.
Code to analyze:
` + "```" + `
%s
` + "```"

const roadmapTemplate = `Create a concise learning roadmap for becoming a %s.
Keep the answer short and structured like this:
1. **Phase Name** — short description (max 15 words)
   - Key Topics (3-4 only)
   - Duration: ~X weeks
   - Mini Project Idea (one line)
Limit the total to 4-6 phases only.
Do NOT add introductions or summaries.`

// Compose prepends the system preface to an already-templated prompt. This is
// the final shape dispatched to the generation client.
func Compose(prompt string) string {
	return SystemPreface + "\n\n" + prompt
}

// ChatPrompt wraps a user's chat message in the mentor template.
func ChatPrompt(userText string) string {
	return fmt.Sprintf(chatTemplate, userText)
}

// AnalyzePrompt wraps source code in the structured-review template.
func AnalyzePrompt(code string) string {
	return fmt.Sprintf(analyzeTemplate, strings.TrimSpace(code))
}

// RoadmapPrompt wraps a learning goal in the roadmap template.
func RoadmapPrompt(goal string) string {
	return fmt.Sprintf(roadmapTemplate, strings.TrimSpace(goal))
}
