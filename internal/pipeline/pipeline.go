// Package pipeline normalizes extraction drafts before they are saved.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Middleware processes a draft and returns the (possibly modified) draft.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a draft.
	Process(d *types.Draft) (*types.Draft, error)
}

// StageError reports which middleware rejected a draft.
type StageError struct {
	Stage string
	URL   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline error at stage %s for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default returns the chain every captured draft goes through.
func Default(logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{})
	p.Use(NewHTMLSanitizeMiddleware())
	p.Use(&DefaultValueMiddleware{})
	p.Use(&TitleMiddleware{MaxRunes: 200})
	p.Use(&PriceMiddleware{})
	p.Use(&ImageMiddleware{})
	p.Use(&RequiredFieldsMiddleware{})
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the draft through all middleware in order.
func (p *Pipeline) Process(d *types.Draft) (*types.Draft, error) {
	current := d

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &StageError{Stage: mw.Name(), URL: d.URL, Err: err}
		}
		if result == nil {
			return nil, &StageError{Stage: mw.Name(), URL: d.URL, Err: fmt.Errorf("draft dropped")}
		}
		current = result
	}

	return current, nil
}

// Normalize runs the pipeline over d. On error d is left unchanged.
func (p *Pipeline) Normalize(d *types.Draft) error {
	work := *d
	out, err := p.Process(&work)
	if err != nil {
		p.logger.Debug("draft rejected", "url", d.URL, "error", err)
		return err
	}
	*d = *out
	return nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}
