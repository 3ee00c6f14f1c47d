package engine

import "context"

// Interrupt is the signal an interrupt-capable step returns to request
// durable suspension. It travels through the step's error return so plain
// steps need no extra plumbing, but it is not a failure: the runner
// persists a snapshot and parks the run instead of propagating it.
type Interrupt struct {
	// Payload is stored alongside the snapshot; for the clarification
	// flow it carries the question and the terms being questioned.
	Payload map[string]any
}

func (i *Interrupt) Error() string {
	return "run interrupted awaiting external input"
}

type feedbackCtxKey struct{}

// WithFeedback returns a context carrying resume feedback. The runner
// sets it only for the re-invocation of the paused step.
func WithFeedback(ctx context.Context, feedback map[string]any) context.Context {
	return context.WithValue(ctx, feedbackCtxKey{}, feedback)
}

// FeedbackFrom extracts resume feedback from the context.
func FeedbackFrom(ctx context.Context) (map[string]any, bool) {
	fb, ok := ctx.Value(feedbackCtxKey{}).(map[string]any)
	return fb, ok
}

// Await is the "request interruption, block for feedback" primitive.
// On the first invocation of a step it raises an Interrupt carrying
// payload; when the runner re-enters the step with feedback, it returns
// that feedback instead.
//
// The step body is replayed from the top on resume, so any side effects
// before the Await call run again. Steps must keep those effects safe to
// repeat (the clarification step rewrites the same question and terms).
func Await(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if fb, ok := FeedbackFrom(ctx); ok {
		return fb, nil
	}
	return nil, &Interrupt{Payload: payload}
}
