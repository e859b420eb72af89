package agent

import "strings"

// Activity is the coarse state shown on the viewport for a working agent.
type Activity string

const (
	ActivityIdle     Activity = "Idle"
	ActivityTyping   Activity = "Typing"
	ActivityReading  Activity = "Reading"
	ActivityThinking Activity = "Thinking"
	ActivityWaiting  Activity = "Waiting"
)

// defaultKeywords is the built-in keyword heuristic. Config may override the
// keyword list per activity.
var defaultKeywords = map[Activity][]string{
	ActivityTyping:   {"write", "edit", "bash"},
	ActivityReading:  {"read", "grep", "find", "ls"},
	ActivityThinking: {"thinking"},
	ActivityWaiting:  {"waiting"},
}

// classifierOrder fixes the match precedence: a line mentioning both a write
// and a read keyword counts as Typing.
var classifierOrder = []Activity{ActivityTyping, ActivityReading, ActivityThinking, ActivityWaiting}

// Classifier maps raw runtime output lines to an Activity.
type Classifier struct {
	keywords map[Activity][]string
}

// NewClassifier builds a classifier with the default keyword sets, replaced
// per activity by any non-empty override.
func NewClassifier(overrides map[Activity][]string) *Classifier {
	keywords := make(map[Activity][]string, len(defaultKeywords))
	for activity, words := range defaultKeywords {
		keywords[activity] = words
	}
	for activity, words := range overrides {
		if len(words) > 0 {
			keywords[activity] = words
		}
	}
	return &Classifier{keywords: keywords}
}

// Classify returns the activity a line suggests, Idle when nothing matches.
func (c *Classifier) Classify(line string) Activity {
	lower := strings.ToLower(line)
	for _, activity := range classifierOrder {
		for _, word := range c.keywords[activity] {
			if strings.Contains(lower, word) {
				return activity
			}
		}
	}
	return ActivityIdle
}
