package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/serialization"
	"github.com/funvibe/aspectweave/internal/task"
	"github.com/funvibe/aspectweave/internal/weaver"
)

// ErrWeaveFailed is set when a stage reported errors without a fatal unwind.
var ErrWeaveFailed = errors.New("weaving reported errors")

// LoadProcessor decodes the input module and checks which framework it was
// built against.
type LoadProcessor struct{}

func (lp *LoadProcessor) Name() string { return "load" }

// Process returns ctx even when a fatal diagnostic unwinds the stage.
func (lp *LoadProcessor) Process(ctx *PipelineContext) (out *PipelineContext) {
	out = ctx
	defer diagnostics.Recover(&ctx.Err)

	if ctx.Input == nil {
		if ctx.Project == nil {
			ctx.Err = fmt.Errorf("load: no input")
			return ctx
		}
		data, err := os.ReadFile(ctx.Project.InputPath())
		if err != nil {
			ctx.Err = fmt.Errorf("load: %w", err)
			return ctx
		}
		ctx.Input = data
	}

	mod, err := metadata.Decode(ctx.Input)
	if err != nil {
		ctx.Err = fmt.Errorf("load: %w", err)
		return ctx
	}
	ctx.Module = mod
	ctx.Domain = metadata.NewDomain(framework.New(), mod)
	ctx.Logger.Debug("module loaded",
		zap.String("module", mod.Name), zap.Int("types", len(mod.Types)))

	if ctx.Project == nil {
		return ctx
	}
	ref, ok := mod.Reference(config.FrameworkModule)
	if !ok {
		return ctx
	}
	satisfied, err := ctx.Project.CheckFramework(ref.Version)
	if err != nil || !satisfied {
		ctx.Sink.Write(diagnostics.Fatal, diagnostics.AW0060, mod.Name,
			ref.Name, ref.Version, ctx.Project.Framework)
	}
	return ctx
}

// WeaveProcessor runs the aspect weaving task over the loaded module.
type WeaveProcessor struct{}

func (wp *WeaveProcessor) Name() string { return "weave" }

func (wp *WeaveProcessor) Process(ctx *PipelineContext) *PipelineContext {
	ser := ctx.Serializer
	if ser == nil {
		name := ""
		if ctx.Project != nil {
			name = ctx.Project.Serializer
		}
		s, err := serialization.ByName(name)
		if err != nil {
			ctx.Err = err
			return ctx
		}
		ser = s
	}

	session := weaver.NewSession(ctx.Domain, ctx.Module, ctx.Sink,
		weaver.WithLogger(ctx.Logger),
		weaver.WithSerializer(ser),
		weaver.WithTarget(ctx.target()))

	opts := []task.Option{
		task.WithRegistry(ctx.Registry),
		task.WithExplicit(ctx.explicit()...),
	}
	for _, f := range ctx.Factories {
		opts = append(opts, task.WithFactory(f))
	}
	for _, a := range ctx.Awareness {
		opts = append(opts, task.WithAwareness(a))
	}

	orch := task.New(session, opts...)
	if err := orch.Run(); err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.Implemented = orch.Implemented()
	if ctx.Sink.HasErrors() {
		ctx.Err = ErrWeaveFailed
	}
	return ctx
}

// VerifyProcessor checks the woven module for dangling references and
// malformed bodies.
type VerifyProcessor struct{}

func (vp *VerifyProcessor) Name() string { return "verify" }

func (vp *VerifyProcessor) Process(ctx *PipelineContext) *PipelineContext {
	problems := metadata.Verify(ctx.Domain, ctx.Module)
	for _, p := range problems {
		ctx.Sink.Write(diagnostics.Error, diagnostics.AW0061, p.Location, p.Message)
	}
	if len(problems) > 0 {
		ctx.Err = ErrWeaveFailed
	}
	return ctx
}

// WriteProcessor encodes the woven module. The MVID is derived from the
// input and the weaver version, so weaving the same input twice yields the
// same bytes.
type WriteProcessor struct{}

func (wp *WriteProcessor) Name() string { return "write" }

func (wp *WriteProcessor) Process(ctx *PipelineContext) *PipelineContext {
	seed := append([]byte(config.WeaverVersion+"\x00"+ctx.target()+"\x00"), ctx.Input...)
	ctx.Module.MVID = uuid.NewSHA1(uuid.NameSpaceOID, seed).String()

	data, err := metadata.Encode(ctx.Module)
	if err != nil {
		ctx.Err = fmt.Errorf("write: %w", err)
		return ctx
	}
	ctx.Output = data

	if ctx.OutputPath == "" {
		return ctx
	}
	if err := os.MkdirAll(filepath.Dir(ctx.OutputPath), 0o755); err != nil {
		ctx.Err = fmt.Errorf("write: %w", err)
		return ctx
	}
	if err := os.WriteFile(ctx.OutputPath, data, 0o644); err != nil {
		ctx.Err = fmt.Errorf("write: %w", err)
		return ctx
	}
	ctx.Logger.Info("module written",
		zap.String("path", ctx.OutputPath), zap.Int("bytes", len(data)))
	return ctx
}
