package agent

import "context"

// fakeLLM is a deterministic test double for LLM: canned replies keyed by
// the last user message, so tests can script multi-turn exchanges.
type fakeLLM struct {
	replies map[string]Reply
	err     error
	calls   int
}

func (f *fakeLLM) Respond(_ context.Context, _ string, _ []HistoryMessage, userMessage string, _ Toolbelt, _ string, _ int) (Reply, error) {
	f.calls++
	if f.err != nil {
		return Reply{}, f.err
	}
	if r, ok := f.replies[userMessage]; ok {
		return r, nil
	}
	return Reply{Text: "ok"}, nil
}
