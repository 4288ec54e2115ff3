// Package handlers holds the built-in handler variants the registry serves:
// classifier, specialists, oversight, and notification.
package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
)

// Classifier annotates an incoming message with intent and sentiment. It is
// stateless; when the inference collaborator fails for either task it falls
// back to the rule-based heuristics so the pipeline never stalls.
type Classifier struct {
	inference contractx.Inference
}

var _ contractx.Handler = (*Classifier)(nil)

func NewClassifier(inference contractx.Inference) *Classifier {
	return &Classifier{inference: inference}
}

func (c *Classifier) Name() string { return routingx.HandlerClassifier }

func (c *Classifier) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeTaskRequest && msg.Text() != ""
}

func (c *Classifier) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	text := msg.Text()

	intent := c.classify(ctx, text, contractx.TaskIntent, heuristicIntent)
	sentiment := c.classify(ctx, text, contractx.TaskSentiment, heuristicSentiment)

	annotated := msg.Annotate(c.Name(), map[string]any{
		contractx.KeyIntent:     intent.Label,
		contractx.KeyConfidence: intent.Confidence,
		contractx.KeyUrgency:    intent.Urgency,
		contractx.KeySentiment:  sentiment.Score,
		contractx.KeyEmotion:    sentiment.Label,
	})

	log.Debug().
		Str("trace_id", msg.TraceID).
		Str("intent", intent.Label).
		Float64("sentiment", sentiment.Score).
		Bool("fallback", intent.Fallback || sentiment.Fallback).
		Msg("message classified")

	return []contractx.Message{annotated}, nil
}

func (c *Classifier) classify(
	ctx context.Context,
	text string,
	task contractx.ClassifyTask,
	fallback func(string) contractx.Classification,
) contractx.Classification {
	if c.inference != nil {
		out, err := c.inference.Classify(ctx, text, task)
		if err == nil {
			return out
		}
		log.Warn().Err(err).Str("task", string(task)).Msg("inference failed, using heuristic fallback")
	}
	return fallback(text)
}
