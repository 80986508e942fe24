// Package pipeline chains the stages that turn an input module bundle into
// a woven one: load, weave, verify and write.
package pipeline

import "go.uber.org/zap"

// Processor is one stage of a pipeline.
type Processor interface {
	Name() string
	Process(ctx *PipelineContext) *PipelineContext
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Default is the full load, weave, verify and write sequence.
func Default() *Pipeline {
	return New(&LoadProcessor{}, &WeaveProcessor{}, &VerifyProcessor{}, &WriteProcessor{})
}

// Run executes the pipeline. Every stage reports into the sink of the
// context; a stage that sets Err stops the run, so later stages never see
// a module left half-processed.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx.init()
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		if ctx.Err != nil {
			ctx.Logger.Debug("pipeline stopped", zap.String("stage", processor.Name()), zap.Error(ctx.Err))
			break
		}
		ctx.Stages = append(ctx.Stages, processor.Name())
	}
	return ctx
}
