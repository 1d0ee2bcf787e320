// Package classify maps free-text prompts to task categories using keyword
// heuristics. Classification is a pure function: no state, no error paths,
// and a default category when nothing matches.
package classify

import (
	"strings"

	"github.com/davidbz/howl/internal/domain"
)

// rule pairs a category with the indicators that select it. Rules are
// evaluated in order; the first match wins.
type rule struct {
	category   domain.TaskCategory
	indicators []string
}

var rules = []rule{
	{
		category: domain.TaskCode,
		indicators: []string{
			"write code", "implement", "debug", "refactor", "function",
			"compile", "stack trace", "unit test", "regex", "sql query",
			"```",
		},
	},
	{
		category: domain.TaskTranslation,
		indicators: []string{
			"translate", "translation", "in french", "in spanish",
			"in german", "in japanese",
		},
	},
	{
		category: domain.TaskSummary,
		indicators: []string{
			"summarize", "summarise", "summary of", "tl;dr", "key points",
		},
	},
	{
		category: domain.TaskCreative,
		indicators: []string{
			"write a story", "write a poem", "creative", "fiction",
			"brainstorm", "imagine", "slogan", "lyrics",
		},
	},
	{
		category: domain.TaskReasoning,
		indicators: []string{
			"step by step", "reasoning", "analyze", "compare", "evaluate",
			"prove", "explain why", "trade-off", "pros and cons",
		},
	},
	{
		category: domain.TaskFact,
		indicators: []string{
			"what is", "who is", "when did", "where is", "define",
			"how many", "list the",
		},
	},
}

// Classify returns the task category for a prompt. Total function: an empty
// or unmatched prompt classifies as TaskSimple.
func Classify(promptText string) domain.TaskCategory {
	lower := strings.ToLower(promptText)

	for _, r := range rules {
		for _, indicator := range r.indicators {
			if strings.Contains(lower, indicator) {
				return r.category
			}
		}
	}

	return domain.TaskSimple
}

// EstimateTokens provides a rough token count from text using the
// ~4 characters per token heuristic for English.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text) / 4
}
