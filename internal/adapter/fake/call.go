package fake

import "sync"

// Call is one recorded request. Method is a runtime method name or, for the
// dashboard server, "VERB /path".
type Call struct {
	Method string
	Args   []any
}

// CallRecorder keeps requests in arrival order.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns the recorded calls to method, or every call when method is
// empty.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count is len(Calls(method)).
func (r *CallRecorder) Count(method string) int {
	return len(r.Calls(method))
}

// Last returns the most recent call to method.
func (r *CallRecorder) Last(method string) (Call, bool) {
	calls := r.Calls(method)
	if len(calls) == 0 {
		return Call{}, false
	}
	return calls[len(calls)-1], true
}

// Reset forgets every recorded call.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
