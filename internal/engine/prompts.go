package engine

import "strings"

// finalAnswerMarker is the token the model includes when a step completes the task.
const finalAnswerMarker = "<done>"

const systemPrompt = `You are a careful reasoning assistant. You solve tasks one step at a time.

On each turn, produce exactly one reasoning step towards the CURRENT_TASK. Use the
available tools whenever a step needs computation, code execution or external facts
instead of guessing. When a step completes the task, state the final answer and
include <DONE> in your response.`

const stepPrompt = `Think about your next reasoning step to perform the CURRENT_TASK. Return just the next step.
If this step completes the task, return your final answer and include <DONE>.`

const reflectionPrompt = `Review your previous reasoning step. If it contains a mistake, point it out and give the
corrected step. Otherwise confirm it briefly and state what remains to be done.
Include <DONE> only if the task is now fully solved.`

const finalAnswerPrompt = `Based on your reasoning above, give the final answer to the CURRENT_TASK.
Respond with the answer only, no commentary.`

// terminationPhrases are accepted as a whole-message completion signal in
// addition to the inline marker.
var terminationPhrases = []string{
	"<done>",
	"<done>.",
	"done",
	"done.",
	"task complete",
	"task complete.",
}

// isFinalAnswer reports whether the assistant text signals task completion.
func isFinalAnswer(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, finalAnswerMarker) {
		return true
	}
	trimmed := strings.TrimSpace(lower)
	for _, phrase := range terminationPhrases {
		if trimmed == phrase {
			return true
		}
	}
	return false
}

// stripFinalMarker removes the completion marker from an answer text.
func stripFinalMarker(text string) string {
	for _, marker := range []string{"<DONE>", "<done>", "<Done>"} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return strings.TrimSpace(text)
}
