package interp_test

import (
	"errors"
	"testing"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

var invalidOp = framework.Ref(config.InvalidOperationName)

func TestExecute_CatchThenFinally(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	host.Static("Run", framework.Int32, nil, func(w *emit.Writer) {
		r := w.DefineLocal("r", framework.Int32)
		done := w.DefineLabel()
		_ = w.Try(testutil.Body(func(w *emit.Writer) {
			testutil.Throw(w, config.InvalidOperationName, "boom")
		}), emit.Catch(invalidOp, testutil.Body(func(w *emit.Writer) {
			w.Op(metadata.OP_POP)
			w.Ldc(1)
			w.Stloc(r)
			w.Leave(done)
		})), emit.Finally(testutil.Body(func(w *emit.Writer) {
			w.Ldloc(r)
			w.Ldc(10)
			w.Op(metadata.OP_ADD)
			w.Stloc(r)
		})))
		w.MarkLabel(done)
		w.Ldloc(r)
		w.Op(metadata.OP_RET)
	})

	m := f.Machine(nil)
	got := testutil.MustCall(t, m, "Tests.Host", "Run")
	if got != int64(11) {
		t.Errorf("got %v, want 11", got)
	}
}

func TestExecute_UnmatchedCatchStillRunsFinally(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	ran := host.StaticField("ran", framework.Boolean)
	host.Static("Run", nil, nil, func(w *emit.Writer) {
		_ = w.Try(testutil.Body(func(w *emit.Writer) {
			testutil.Throw(w, config.InvalidOperationName, "boom")
		}), emit.Catch(framework.Ref(config.NullReferenceName), testutil.Body(func(w *emit.Writer) {
			w.Op(metadata.OP_POP)
		})), emit.Finally(testutil.Body(func(w *emit.Writer) {
			w.Ldc(1)
			w.Stsfld(ran.Ref(nil))
		})))
		w.Op(metadata.OP_RET)
	})

	m := f.Machine(nil)
	_, err := m.CallMethod("Tests.Host", "Run")
	var thrown *interp.Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("got %v, want a thrown exception", err)
	}
	if thrown.Exception.ExceptionType() != config.InvalidOperationName || thrown.Exception.ExceptionMessage() != "boom" {
		t.Errorf("got %s, want InvalidOperationException: boom", thrown)
	}
	if v, _ := m.Static("Tests.Host", "ran"); v != int64(1) {
		t.Errorf("finally did not run")
	}
}

func TestExecute_ValueTypesAreCopied(t *testing.T) {
	f := testutil.New("Tests")
	point := f.Struct("Tests.Point")
	x := point.Field("X", framework.Int32)
	host := f.Class("Tests.Host", nil)
	host.Static("Run", framework.Int32, nil, func(w *emit.Writer) {
		p := w.DefineLocal("p", point.SelfType())
		q := w.DefineLocal("q", point.SelfType())
		w.Ldloca(p)
		w.Ldc(5)
		w.Stfld(x.Ref(nil))
		w.Ldloc(p)
		w.Stloc(q)
		w.Ldloca(q)
		w.Ldc(7)
		w.Stfld(x.Ref(nil))
		w.Ldloc(p)
		w.Ldfld(x.Ref(nil))
		w.Op(metadata.OP_RET)
	})

	got := testutil.MustCall(t, f.Machine(nil), "Tests.Host", "Run")
	if got != int64(5) {
		t.Errorf("got %v, want 5", got)
	}
}

func TestExecute_VirtualDispatch(t *testing.T) {
	f := testutil.New("Tests")
	base := f.Class("Tests.Base", nil)
	base.DefaultCtor(nil)
	name := base.Virtual("Name", framework.Int32, nil, func(w *emit.Writer) {
		w.Ldc(1)
		w.Op(metadata.OP_RET)
	})
	derived := f.Class("Tests.Derived", base.SelfType())
	derivedCtor := derived.DefaultCtor(nil)
	derived.Override("Name", framework.Int32, nil, func(w *emit.Writer) {
		w.Ldc(2)
		w.Op(metadata.OP_RET)
	})
	host := f.Class("Tests.Host", nil)
	host.Static("Run", framework.Int32, nil, func(w *emit.Writer) {
		w.NewObj(derivedCtor.Ref(nil))
		w.CallVirt(name.Ref(nil))
		w.Op(metadata.OP_RET)
	})

	got := testutil.MustCall(t, f.Machine(nil), "Tests.Host", "Run")
	if got != int64(2) {
		t.Errorf("got %v, want 2", got)
	}
}

func TestDelegate_WritesBackByRefArguments(t *testing.T) {
	f := testutil.New("Tests")
	del := f.Class("Tests.IncDelegate", framework.MulticastDelegate)
	del.Sealed = true
	ctor := del.AddMethod(&metadata.MethodDef{
		Name: config.ConstructorName, Params: testutil.Params(framework.Object, framework.IntPtr),
		Visibility: metadata.VisPublic, RuntimeManaged: true,
	})
	del.AddMethod(&metadata.MethodDef{
		Name: config.InvokeMethodName, Params: testutil.Params(typesystem.TByRef{Elem: framework.Int32}),
		Visibility: metadata.VisPublic, Virtual: true, RuntimeManaged: true,
	})

	host := f.Class("Tests.Host", nil)
	inc := host.Static("Inc", nil, []typesystem.Type{typesystem.TByRef{Elem: framework.Int32}}, func(w *emit.Writer) {
		w.Ldarg(0)
		w.Ldarg(0)
		w.TypeOp(metadata.OP_LDOBJ, framework.Int32)
		w.Ldc(1)
		w.Op(metadata.OP_ADD)
		w.TypeOp(metadata.OP_STOBJ, framework.Int32)
		w.Op(metadata.OP_RET)
	})
	host.Static("Make", del.SelfType(), nil, func(w *emit.Writer) {
		w.Op(metadata.OP_LDNULL)
		w.Ldftn(inc.Ref(nil))
		w.NewObj(ctor.Ref(nil))
		w.Op(metadata.OP_RET)
	})

	m := f.Machine(nil)
	d, ok := testutil.MustCall(t, m, "Tests.Host", "Make").(*interp.Delegate)
	if !ok {
		t.Fatalf("Make did not return a delegate")
	}
	args := []any{int64(4)}
	if _, err := d.Invoke(args); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if args[0] != int64(5) {
		t.Errorf("got %v, want 5", args[0])
	}
}

func TestTypeInitializer_RunsOnce(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	count := host.StaticField("Count", framework.Int32)
	host.AddMethod(&metadata.MethodDef{Name: config.TypeInitializerName, Static: true, Visibility: metadata.VisPrivate})
	cctor := host.FindMethod(config.TypeInitializerName, 0)
	if err := emit.Into(cctor, testutil.Body(func(w *emit.Writer) {
		w.Ldsfld(count.Ref(nil))
		w.Ldc(41)
		w.Op(metadata.OP_ADD)
		w.Stsfld(count.Ref(nil))
		w.Op(metadata.OP_RET)
	})); err != nil {
		t.Fatal(err)
	}
	host.Static("Get", framework.Int32, nil, func(w *emit.Writer) {
		w.Ldsfld(count.Ref(nil))
		w.Ldc(1)
		w.Op(metadata.OP_ADD)
		w.Op(metadata.OP_RET)
	})

	m := f.Machine(nil)
	for i := 0; i < 2; i++ {
		if got := testutil.MustCall(t, m, "Tests.Host", "Get"); got != int64(42) {
			t.Errorf("call %d: got %v, want 42", i, got)
		}
	}
}

func TestFatalErrors_AreNotCatchable(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	uninitialized := framework.Method(f.Domain, framework.AspectsRuntime, "Uninitialized", 1)
	host.Static("Run", nil, nil, func(w *emit.Writer) {
		done := w.DefineLabel()
		_ = w.Try(testutil.Body(func(w *emit.Writer) {
			w.Ldstr("Tests")
			w.Call(uninitialized)
			w.Leave(done)
		}), emit.Catch(nil, testutil.Body(func(w *emit.Writer) {
			w.Op(metadata.OP_POP)
			w.Leave(done)
		})))
		w.MarkLabel(done)
		w.Op(metadata.OP_RET)
	})

	_, err := f.Machine(nil).CallMethod("Tests.Host", "Run")
	var fatal *interp.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want a fatal error", err)
	}
}

func TestCasts(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	host.Static("IsString", framework.Boolean, []typesystem.Type{framework.Object}, func(w *emit.Writer) {
		w.Ldarg(0)
		w.TypeOp(metadata.OP_ISINST, framework.String)
		w.Op(metadata.OP_LDNULL)
		w.Op(metadata.OP_CEQ)
		w.Ldc(0)
		w.Op(metadata.OP_CEQ)
		w.Op(metadata.OP_RET)
	})
	host.Static("ToException", framework.Exception, []typesystem.Type{framework.Object}, func(w *emit.Writer) {
		w.Ldarg(0)
		w.TypeOp(metadata.OP_CASTCLASS, framework.Exception)
		w.Op(metadata.OP_RET)
	})

	m := f.Machine(nil)
	if got := testutil.MustCall(t, m, "Tests.Host", "IsString", "text"); got != int64(1) {
		t.Errorf("IsString(text) = %v, want 1", got)
	}
	if got := testutil.MustCall(t, m, "Tests.Host", "IsString", int64(3)); got != int64(0) {
		t.Errorf("IsString(3) = %v, want 0", got)
	}
	_, err := m.CallMethod("Tests.Host", "ToException", "text")
	var thrown *interp.Thrown
	if !errors.As(err, &thrown) || thrown.Exception.ExceptionType() != config.InvalidCastName {
		t.Errorf("got %v, want InvalidCastException", err)
	}
}

func TestDebuggerLog(t *testing.T) {
	f := testutil.New("Tests")
	host := f.Class("Tests.Host", nil)
	log := framework.Method(f.Domain, framework.Debugger, "Log", 3)
	host.Static("Run", nil, nil, func(w *emit.Writer) {
		w.Ldc(0)
		w.Ldstr("cat")
		w.Ldstr("hello")
		w.Call(log)
		w.Op(metadata.OP_RET)
	})
	m := f.Machine(nil)
	testutil.MustCall(t, m, "Tests.Host", "Run")
	if got := m.DebugLog(); len(got) != 1 || got[0] != "cat: hello" {
		t.Errorf("got %q, want [cat: hello]", got)
	}
}
