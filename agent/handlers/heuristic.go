package handlers

import (
	"strings"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// Rule-based classifiers used when the inference collaborator is down.
// Lower confidence than model output, never an error.

type keywordIntent struct {
	words      []string
	intent     string
	confidence float64
	urgency    string
	phrase     string
}

var intentRules = []keywordIntent{
	{words: []string{"not received", "missing", "lost"}, intent: "shipping_inquiry", confidence: 0.8, urgency: "high", phrase: "not received"},
	{words: []string{"refund", "money back", "return"}, intent: "refund_request", confidence: 0.9, urgency: "medium", phrase: "refund"},
	{words: []string{"angry", "frustrated", "terrible", "worst"}, intent: "complaint", confidence: 0.85, urgency: "high", phrase: "angry"},
	{words: []string{"cancel", "stop", "unsubscribe"}, intent: "cancellation", confidence: 0.9, urgency: "medium", phrase: "cancel"},
	{words: []string{"not working", "broken", "error", "issue"}, intent: "technical_support", confidence: 0.8, urgency: "medium", phrase: "not working"},
}

func heuristicIntent(text string) contractx.Classification {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				return contractx.Classification{
					Label:      rule.intent,
					Confidence: rule.confidence,
					Urgency:    rule.urgency,
					KeyPhrases: []string{rule.phrase},
					Fallback:   true,
				}
			}
		}
	}
	return contractx.Classification{
		Label:      "general_query",
		Confidence: 0.7,
		Urgency:    "low",
		Fallback:   true,
	}
}

var (
	negativeWords = []string{"angry", "frustrated", "terrible", "worst", "awful", "horrible", "disappointed", "furious"}
	positiveWords = []string{"happy", "satisfied", "great", "excellent", "good", "pleased"}
)

func heuristicSentiment(text string) contractx.Classification {
	lower := strings.ToLower(text)

	var negative, positive int
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}

	switch {
	case negative > positive:
		return contractx.Classification{Label: "frustrated", Score: -0.6, Confidence: 0.7, Fallback: true}
	case positive > negative:
		return contractx.Classification{Label: "satisfied", Score: 0.6, Confidence: 0.5, Fallback: true}
	default:
		return contractx.Classification{Label: "neutral", Score: 0.0, Confidence: 0.3, Fallback: true}
	}
}
