package middleware

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// Outcome collects fields a handler reports about the request it served,
// such as the recommendation result code. Logger and Telemetry attach them
// to the access log line and the server span.
type Outcome struct {
	mu     sync.Mutex
	fields map[string]string
}

type outcomeKey struct{}

// Annotate records a field on the current request's outcome. It is a no-op
// when neither Logger nor Telemetry wraps the handler.
func Annotate(ctx context.Context, key, value string) {
	o, _ := ctx.Value(outcomeKey{}).(*Outcome)
	if o == nil {
		return
	}
	o.mu.Lock()
	o.fields[key] = value
	o.mu.Unlock()
}

// withOutcome returns r carrying an Outcome, reusing one installed by an
// outer middleware.
func withOutcome(r *http.Request) (*http.Request, *Outcome) {
	if o, ok := r.Context().Value(outcomeKey{}).(*Outcome); ok {
		return r, o
	}
	o := &Outcome{fields: make(map[string]string)}
	return r.WithContext(context.WithValue(r.Context(), outcomeKey{}, o)), o
}

// each calls fn for every field in key order.
func (o *Outcome) each(fn func(key, value string)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, o.fields[k])
	}
}
