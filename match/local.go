package match

import "context"

// LocalRunner executes matches in-process through the Engine. It is the
// default backend and the only one the orchestrator binary uses.
type LocalRunner struct {
	engine *Engine
}

func NewLocalRunner(engine *Engine) *LocalRunner {
	return &LocalRunner{engine: engine}
}

func (r *LocalRunner) Run(ctx context.Context, spec *Spec) *Result {
	return r.engine.Run(ctx, spec)
}
