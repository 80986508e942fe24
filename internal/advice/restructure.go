package advice

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

func apply(d *metadata.Domain, md *metadata.MethodDef, advices []*Advice) error {
	if md.Body == nil {
		return fmt.Errorf("method has no body")
	}
	groups := byJoinPoint(advices)
	if init := groups[AfterInstanceInitialization]; len(init) > 0 {
		if !md.IsConstructor() {
			return fmt.Errorf("%s advice on a method that is not a constructor", AfterInstanceInitialization)
		}
		if err := insertAfterInitialization(md, init); err != nil {
			return err
		}
	}
	before, success := groups[BeforeBody], groups[AfterBodySuccess]
	handlers, always := groups[AfterBodyException], groups[AfterBodyAlways]
	if len(before)+len(success)+len(handlers)+len(always) == 0 {
		return nil
	}
	return wrap(md, before, success, handlers, always)
}

// wrap rewrites the body as
//
//	before advices
//	try {
//	    try { body } catch { exception advice }   one region per advice
//	  success:
//	    success advices
//	  done:
//	    leave exit
//	} finally { always advices }
//	exit:
//	    return the return local
//
// Every ret of the original body stores the return local and leaves to success.
func wrap(md *metadata.MethodDef, before, success, handlers, always []*Advice) error {
	original := metadata.CloneInstructions(md.Body.Instructions)
	return emit.Into(md, func(w *emit.Writer) error {
		rv := -1
		if md.Return != nil {
			rv = w.DefineLocal("~returnValue", md.Return)
		}
		exit, done, succeeded := w.DefineLabel(), w.DefineLabel(), w.DefineLabel()
		redirectReturns(&original, rv, succeeded)

		ctx := func(jp JoinPoint) *Context {
			return &Context{Method: md, ReturnLocal: rv, ExceptionLocal: -1, joinPoint: jp, exit: exit, done: done}
		}

		for _, a := range before {
			if err := a.Emit(ctx(BeforeBody), w); err != nil {
				return fmt.Errorf("%s: %w", a.Owner, err)
			}
		}

		var layer func(i int) func(w *emit.Writer) error
		layer = func(i int) func(w *emit.Writer) error {
			if i == len(handlers) {
				return func(w *emit.Writer) error {
					w.Emit(original...)
					return nil
				}
			}
			a := handlers[i]
			return func(w *emit.Writer) error {
				return w.Try(layer(i+1), emit.Catch(a.ExceptionType, func(w *emit.Writer) error {
					excType := a.ExceptionType
					if excType == nil {
						excType = framework.Exception
					}
					hctx := ctx(AfterBodyException)
					hctx.ExceptionLocal = w.DefineLocal("~exception", excType)
					w.Stloc(hctx.ExceptionLocal)
					if err := a.Emit(hctx, w); err != nil {
						return fmt.Errorf("%s: %w", a.Owner, err)
					}
					hctx.Rethrow(w)
					return nil
				}))
			}
		}

		main := func(w *emit.Writer) error {
			if err := layer(0)(w); err != nil {
				return err
			}
			w.MarkLabel(succeeded)
			for _, a := range reversed(success) {
				if err := a.Emit(ctx(AfterBodySuccess), w); err != nil {
					return fmt.Errorf("%s: %w", a.Owner, err)
				}
			}
			w.MarkLabel(done)
			w.Leave(exit)
			return nil
		}

		if len(always) == 0 {
			if err := main(w); err != nil {
				return err
			}
		} else {
			err := w.Try(main, emit.Finally(func(w *emit.Writer) error {
				for _, a := range reversed(always) {
					if err := a.Emit(ctx(AfterBodyAlways), w); err != nil {
						return fmt.Errorf("%s: %w", a.Owner, err)
					}
				}
				return nil
			}))
			if err != nil {
				return err
			}
		}

		w.MarkLabel(exit)
		if rv >= 0 {
			w.Ldloc(rv)
		}
		w.Op(metadata.OP_RET)
		return nil
	})
}

func redirectReturns(body *[]metadata.Instruction, rv int, target string) {
	metadata.Walk(body, func(list *[]metadata.Instruction) {
		out := make([]metadata.Instruction, 0, len(*list))
		for _, ins := range *list {
			if ins.Op != metadata.OP_RET {
				out = append(out, ins)
				continue
			}
			if rv >= 0 {
				out = append(out, metadata.Instruction{Op: metadata.OP_STLOC, Int: int64(rv)})
			}
			out = append(out, metadata.Instruction{Op: metadata.OP_LEAVE, Label: target})
		}
		*list = out
	})
}

// insertAfterInitialization places advices right after the chained base
// constructor call. Constructors delegating to a constructor of their own
// type are left alone: the delegate runs the advice. Without a base call
// (value types, root types) advices go first.
func insertAfterInitialization(md *metadata.MethodDef, advices []*Advice) error {
	owner := md.DeclaringType()
	at := 0
	for i, ins := range md.Body.Instructions {
		if ins.Op != metadata.OP_CALL || ins.Method == nil || ins.Method.Name != config.ConstructorName {
			continue
		}
		con, ok := typesystem.Definition(ins.Method.DeclaringType)
		if !ok {
			continue
		}
		if con == owner.Con() {
			return nil
		}
		if base, ok := typesystem.Definition(owner.BaseType); ok && base == con {
			at = i + 1
			break
		}
	}

	fragment, err := emit.Fragment(md, func(w *emit.Writer) error {
		ctx := &Context{Method: md, ReturnLocal: -1, ExceptionLocal: -1, joinPoint: AfterInstanceInitialization}
		for _, a := range advices {
			if err := a.Emit(ctx, w); err != nil {
				return fmt.Errorf("%s: %w", a.Owner, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	list := md.Body.Instructions
	out := make([]metadata.Instruction, 0, len(list)+len(fragment))
	out = append(out, list[:at]...)
	out = append(out, fragment...)
	out = append(out, list[at:]...)
	md.Body.Instructions = out
	return nil
}
