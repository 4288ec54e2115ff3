package handlers

import (
	"context"
	"fmt"
	"sync"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

type fakeInference struct {
	intent    contractx.Classification
	sentiment contractx.Classification
	err       error
	calls     int
}

func (f *fakeInference) Classify(ctx context.Context, text string, task contractx.ClassifyTask) (contractx.Classification, error) {
	f.calls++
	if f.err != nil {
		return contractx.Classification{}, f.err
	}
	if task == contractx.TaskIntent {
		return f.intent, nil
	}
	return f.sentiment, nil
}

type gatewayCall struct {
	handler string
	req     contractx.ToolRequest
}

type fakeGateway struct {
	results map[string]contractx.ToolResult
	err     error

	mu    sync.Mutex
	calls []gatewayCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]contractx.ToolResult)}
}

func (f *fakeGateway) Execute(ctx context.Context, handler string, req contractx.ToolRequest) (contractx.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, gatewayCall{handler: handler, req: req})
	f.mu.Unlock()
	if f.err != nil {
		return contractx.ToolResult{}, f.err
	}
	res, ok := f.results[req.Tool]
	if !ok {
		return contractx.ToolResult{}, fmt.Errorf("no scripted result for tool %s", req.Tool)
	}
	return res, nil
}

func (f *fakeGateway) callsFor(tool string) []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gatewayCall
	for _, c := range f.calls {
		if c.req.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

type fakeNotifier struct {
	err error

	mu    sync.Mutex
	sends []string
}

func (f *fakeNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	f.mu.Lock()
	f.sends = append(f.sends, recipient+"|"+subject)
	f.mu.Unlock()
	return f.err
}

func (f *fakeNotifier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func taskMsg(payload map[string]any) contractx.Message {
	return contractx.NewMessage("s1", "classifier", "", contractx.TypeTaskRequest, payload)
}
