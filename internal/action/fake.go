package action

import (
	"context"
	"sync"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// FakeInvoker records invocations and returns scripted results. Used in
// tests and local runs without deployed actions.
type FakeInvoker struct {
	mu      sync.Mutex
	results map[Action]models.Result
	errs    map[Action]error
	calls   []Call
}

// Call is one recorded invocation.
type Call struct {
	Action  Action
	Payload any
}

func NewFakeInvoker() *FakeInvoker {
	return &FakeInvoker{
		results: map[Action]models.Result{},
		errs:    map[Action]error{},
	}
}

// Script sets the result returned for an action. Unscripted actions succeed
// with an empty body.
func (f *FakeInvoker) Script(a Action, res models.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[a] = res
}

// Fail makes an action return an invocation error.
func (f *FakeInvoker) Fail(a Action, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[a] = err
}

func (f *FakeInvoker) Invoke(ctx context.Context, a Action, payload any) (models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Action: a, Payload: payload})
	if err, ok := f.errs[a]; ok {
		return models.Result{}, &InvocationError{Action: a, Cause: err}
	}
	if res, ok := f.results[a]; ok {
		return res, nil
	}
	return models.Result{StatusCode: 200}, nil
}

// Calls returns a copy of all recorded invocations.
func (f *FakeInvoker) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times an action was invoked.
func (f *FakeInvoker) CallCount(a Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Action == a {
			n++
		}
	}
	return n
}
