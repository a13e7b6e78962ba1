package mood

import (
	"strings"
)

// Label is the customer mood read from a query.
type Label string

const (
	Neutral    Label = "neutral"
	Frustrated Label = "frustrated"
	Urgent     Label = "urgent"
	Confused   Label = "confused"
	Satisfied  Label = "satisfied"
)

// Decision is the detected mood and how strongly it shows, on a 1 to 5 scale.
type Decision struct {
	Mood      Label
	Intensity int
	Score     int
}

var keywordBuckets = map[Label][]string{
	Frustrated: {
		"angry", "furious", "annoyed", "ridiculous", "unacceptable", "terrible", "worst", "again",
		"still not", "doesn't work", "does not work", "broken", "fed up", "waste", "refund", "complain",
		"生气", "愤怒", "受够了", "投诉", "太差", "坏了",
	},
	Urgent: {
		"urgent", "asap", "immediately", "right now", "today", "emergency", "deadline", "quickly",
		"locked out", "can't access", "cannot access", "紧急", "马上", "尽快", "立刻",
	},
	Confused: {
		"how do i", "how can i", "what is", "don't understand", "do not understand", "confused",
		"not sure", "unclear", "explain", "what does", "怎么", "不明白", "不懂", "什么意思",
	},
	Satisfied: {
		"thanks", "thank you", "great", "perfect", "awesome", "works now", "solved", "love",
		"谢谢", "太好了", "满意", "解决了",
	},
}

// Analyze reads the mood of a customer query.
func Analyze(query string) Decision {
	decision := scoreText(query)
	if decision.Score == 0 {
		return Decision{Mood: Neutral, Intensity: 1}
	}

	intensity := 1 + decision.Score/3
	if decision.Mood == Frustrated && strings.Count(query, "!") > 1 {
		intensity++
	}
	if intensity > 5 {
		intensity = 5
	}
	decision.Intensity = intensity
	return decision
}

// Guidance is a tone instruction for answering a customer in mood d.
func (d Decision) Guidance() string {
	switch d.Mood {
	case Frustrated:
		return "The customer is frustrated. Acknowledge the problem first, stay calm and concrete, and give the next step."
	case Urgent:
		return "The customer is in a hurry. Lead with the fastest working solution and keep it short."
	case Confused:
		return "The customer is unsure how things work. Explain step by step without jargon."
	case Satisfied:
		return "The customer is pleased. Keep the answer friendly and brief."
	default:
		return ""
	}
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Mood: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 {
		scores[Urgent] += exclamations
		if scores[Frustrated] > 0 {
			scores[Frustrated] += exclamations
		}
	}
	if strings.Count(text, "?") > 1 {
		scores[Confused] += 2
	}

	bestLabel := Neutral
	bestScore := 0
	// Fixed order keeps ties deterministic.
	for _, label := range []Label{Frustrated, Urgent, Confused, Satisfied} {
		if s := scores[label]; s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}
	return Decision{Mood: bestLabel, Score: bestScore}
}
