package pipeline

import (
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/serialization"
	"github.com/funvibe/aspectweave/internal/task"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// PipelineContext carries one module through the stages.
type PipelineContext struct {
	// Project configures the run; nil selects the defaults of an empty
	// project.
	Project *config.Project

	// Input is the encoded module. LoadProcessor reads Project.InputPath
	// when it is nil.
	Input []byte

	// OutputPath, when set, is where WriteProcessor stores Output.
	OutputPath string

	Logger     *zap.Logger
	Sink       *diagnostics.Sink
	Registry   *aspects.Registry
	Serializer serialization.Serializer
	Factories  []weaver.Factory
	Awareness  []task.Awareness

	// Set by the stages.
	Module      *metadata.Module
	Domain      *metadata.Domain
	Implemented int
	Output      []byte
	Stages      []string
	Err         error
}

func (ctx *PipelineContext) init() *PipelineContext {
	if ctx.Logger == nil {
		ctx.Logger = zap.NewNop()
	}
	if ctx.Sink == nil {
		ceiling := 0
		if ctx.Project != nil {
			ceiling = ctx.Project.ErrorCeiling
		}
		ctx.Sink = diagnostics.NewSink(ctx.Logger, ceiling)
	}
	if ctx.Registry == nil {
		ctx.Registry = aspects.NewRegistry()
	}
	return ctx
}

func (ctx *PipelineContext) target() string {
	if ctx.Project != nil && ctx.Project.Target != "" {
		return ctx.Project.Target
	}
	return weaver.TargetFull
}

func (ctx *PipelineContext) explicit() []config.AspectSpec {
	if ctx.Project == nil {
		return nil
	}
	return ctx.Project.Aspects
}
