// Package expressions wraps the two expression engines plandrift relies on:
// gojq for reshaping extracted plan documents (feature gates and value
// projections) and CEL for guard conditions on scheduled audits.
// Both engines cache compiled programs and are safe for concurrent use.
package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/verityops/plandrift/pkg/schema"
)

// GoJQEngine evaluates jq expressions against decoded JSON documents.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Evaluate compiles (or retrieves from cache) a jq expression and evaluates
// it against the provided document. jq expressions can produce multiple
// outputs; only the first output is returned, which is all the feature
// registry ever needs.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, doc map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)
	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if jqErr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"jq evaluation failed for %q: %s", expression, jqErr.Error()).
			WithCause(jqErr).
			WithDetails(map[string]any{"expression": expression})
	}
	return val, nil
}

func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	e.cache[expression] = code
	return code, nil
}
