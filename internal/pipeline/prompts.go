package pipeline

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// answerSystemPrompt establishes the assistant role and the grounding rules
// for every generated answer.
const answerSystemPrompt = `You are an agricultural assistant serving farmers in western Odisha, India.

Answer the farmer's question using ONLY the reference context provided below
the question. Grounding rules:
- Do not cite facts, figures, or prices that are not present in the context.
- When the context contains a relevant number (price, dose, date), repeat it
  exactly as given.
- When the context is empty or does not cover the question, say so plainly
  and give only general agricultural guidance, clearly marked as such.
- Answer in short, practical sentences a farmer can act on.`

// synthesisSystemPrompt drives workflow summary generation.
const synthesisSystemPrompt = `You are an agricultural expert composing a final answer for a farmer whose
question was answered in several steps. Integrate the step results into one
well-structured summary that addresses the original question, keeps every
concrete figure from the steps, and ends with actionable recommendations.
Use short sections or bullet points.`

// buildAnswerMessages assembles the prompt for a single-shot answer.
func buildAnswerMessages(query string, retrieval *rag.Context) []*schema.Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n\n", query)

	if retrieval == nil || retrieval.Empty() {
		user.WriteString("Reference context: (no matching reference data was found)")
	} else {
		fmt.Fprintf(&user, "Reference context:\n%s", retrieval.AssembledText)
	}

	return []*schema.Message{
		schema.SystemMessage(answerSystemPrompt),
		schema.UserMessage(user.String()),
	}
}

// subtaskQuery rewrites a subtask description so the model keeps the
// connection to the original query while answering one step.
func subtaskQuery(spec intent.SubtaskSpec, originalQuery string) string {
	return fmt.Sprintf(
		"%s (This is one step of a larger question: %q. Give specific, actionable advice for this step.)",
		spec.Description, originalQuery)
}

// buildSynthesisMessages assembles the prompt that merges subtask results
// into the final workflow summary.
func buildSynthesisMessages(originalQuery string, subtasks []intent.SubtaskSpec, results []workflow.SubtaskResult) []*schema.Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Original question: %q\n\nStep results:\n", originalQuery)
	for i, r := range results {
		desc := ""
		if i < len(subtasks) {
			desc = subtasks[i].Description
		}
		fmt.Fprintf(&user, "%d. %s: %s\n", i+1, desc, r.Response)
	}
	user.WriteString("\nCompose the final summary now.")

	return []*schema.Message{
		schema.SystemMessage(synthesisSystemPrompt),
		schema.UserMessage(user.String()),
	}
}
