package taxonomy

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"codetax/internal/backends"
	"codetax/internal/slogutil"
)

// Request selects the rules of one classification run.
type Request struct {
	Rules []*Rule
	// Paths replaces every batch's search paths when non-empty.
	Paths []string
}

// Observer is told about every finished batch.
type Observer interface {
	BatchDone(b Batch, raw, kept int, elapsed time.Duration)
}

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	// Workers is the number of batches searched concurrently. Values below 2
	// search sequentially.
	Workers int
	// NewLinker returns the link generator for one run, so revision caches
	// never outlive it. Nil disables links.
	NewLinker func() Linker
	Observer  Observer
}

// Engine runs classification passes against a search backend.
type Engine struct {
	backend backends.SearchBackend
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(backend backends.SearchBackend, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Engine{backend: backend, opts: opts, logger: logger}
}

// Sequential returns a copy of e that searches one batch at a time.
func (e *Engine) Sequential() *Engine {
	cp := *e
	cp.opts.Workers = 1
	return &cp
}

// Backend returns the search backend.
func (e *Engine) Backend() backends.SearchBackend { return e.backend }

// Classify plans req, searches every batch and streams the classified matches
// to fn in batch order. The first error from the backend or fn ends the run.
func (e *Engine) Classify(ctx context.Context, req Request, fn func(ClassifiedMatch) error) error {
	var linker Linker
	if e.opts.NewLinker != nil {
		linker = e.opts.NewLinker()
	}

	e.logger.Debug("Searching for", "rules", ruleNames(req.Rules))
	cls := NewClassifier(req.Rules, linker)
	if pruned := cls.Pruned(); len(pruned) > 0 {
		e.logger.Debug("Pruning epics", "epics", pruned)
	}

	batches := Plan(req.Rules, req.Paths)

	if e.opts.Workers < 2 || len(batches) < 2 {
		for _, b := range batches {
			if err := e.runBatch(ctx, cls, b, fn); err != nil {
				return err
			}
		}
		return nil
	}

	// concurrent batches are buffered and replayed in submission order
	results := make([][]ClassifiedMatch, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			return e.runBatch(gctx, cls, b, func(cm ClassifiedMatch) error {
				results[i] = append(results[i], cm)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, res := range results {
		for _, cm := range res {
			if err := fn(cm); err != nil {
				return err
			}
		}
	}
	return nil
}

// Collect runs Classify and returns every match.
func (e *Engine) Collect(ctx context.Context, req Request) ([]ClassifiedMatch, error) {
	var out []ClassifiedMatch
	err := e.Classify(ctx, req, func(cm ClassifiedMatch) error {
		out = append(out, cm)
		return nil
	})
	return out, err
}

func (e *Engine) runBatch(ctx context.Context, cls *Classifier, b Batch, fn func(ClassifiedMatch) error) error {
	start := time.Now()
	q := b.Query()
	e.logger.Debug("Searching batch",
		"head", b.Head.Name(),
		"rules", ruleNames(b.Rules),
		"pattern", q.Pattern,
		"paths", q.Paths,
		"globs", q.Globs,
	)

	raw, kept := 0, 0
	err := e.backend.Search(ctx, q, func(m backends.Match) error {
		raw++
		cm, ok := cls.Classify(ctx, m, b)
		if !ok {
			return nil
		}
		kept++
		return fn(cm)
	})
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	e.logger.Debug("Batch done", "head", b.Head.Name(), "raw", raw, "kept", kept, "elapsed", elapsed)
	if e.opts.Observer != nil {
		e.opts.Observer.BatchDone(b, raw, kept, elapsed)
	}
	return nil
}

func ruleNames(rules []*Rule) []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}
