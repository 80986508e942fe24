package weaver_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// fieldAspect doubles every stored value and adds one to every read.
type fieldAspect struct {
	j *journal
}

func (a *fieldAspect) OnGetValue(args *aspects.FieldAccessArgs) {
	a.j.add("get %s %v", args.Field.MemberName(), args.ExposedFieldValue)
	args.ExposedFieldValue = args.ExposedFieldValue.(int64) + 1
}

func (a *fieldAspect) OnSetValue(args *aspects.FieldAccessArgs) {
	a.j.add("set %s %v", args.Field.MemberName(), args.StoredFieldValue)
	args.StoredFieldValue = args.StoredFieldValue.(int64) * 2
}

// account has a balance field written by Deposit and read by Balance.
func account(h *harness) (*testutil.Type, *metadata.FieldDef) {
	acct := h.Class("Tests.Account", nil)
	acct.DefaultCtor(nil)
	balance := acct.Field("balance", framework.Int32)
	acct.Method("Deposit", nil, []typesystem.Type{framework.Int32}, func(w *emit.Writer) {
		w.Ldthis()
		w.LdParam(0)
		w.Stfld(acct.FieldRef("balance"))
		w.Op(metadata.OP_RET)
	})
	acct.Method("Balance", framework.Int32, nil, func(w *emit.Writer) {
		w.Ldthis()
		w.Ldfld(acct.FieldRef("balance"))
		w.Op(metadata.OP_RET)
	})
	return acct, balance
}

func TestFieldAccess_InterceptsReadsAndWrites(t *testing.T) {
	h := newHarness(t)
	_, balance := account(h)

	j := &journal{}
	o := h.weave(t, onField("Tests.Audit", balance, &fieldAspect{j: j}))

	m := h.machine()
	obj := testutil.MustNew(t, m, "Tests.Account")
	testutil.MustCall(t, m, "Tests.Account", "Deposit", obj, int64(5))
	if got := obj.Field("Tests.Account", "balance"); got != int64(10) {
		t.Errorf("stored balance = %v, want 10", got)
	}
	if got := testutil.MustCall(t, m, "Tests.Account", "Balance", obj); got != int64(11) {
		t.Errorf("Balance() = %v, want 11", got)
	}
	if diff := cmp.Diff([]string{"set balance 5", "get balance 10"}, j.entries); diff != "" {
		t.Errorf("journal mismatch (-want +got):\n%s", diff)
	}

	fa := o.Weavers()[0].(*weaver.FieldAccessWeaver)
	get, set := fa.Accessors()
	if get == nil || set == nil || get.Visibility != metadata.VisAssembly || get.Static {
		t.Errorf("accessors = %v, %v", get, set)
	}
}

func TestFieldAccess_StaticField(t *testing.T) {
	h := newHarness(t)
	reg := h.Class("Tests.Registry", nil)
	count := reg.StaticField("count", framework.Int32)
	reg.Static("Bump", framework.Int32, nil, func(w *emit.Writer) {
		w.Ldsfld(reg.FieldRef("count"))
		w.Ldc(1)
		w.Op(metadata.OP_ADD)
		w.Stsfld(reg.FieldRef("count"))
		w.Ldsfld(reg.FieldRef("count"))
		w.Op(metadata.OP_RET)
	})

	j := &journal{}
	h.weave(t, onField("Tests.Audit", count, &fieldAspect{j: j}))

	// read 0 exposed as 1, stored 2 as 4, read 4 exposed as 5.
	if got := testutil.MustCall(t, h.machine(), "Tests.Registry", "Bump"); got != int64(5) {
		t.Errorf("Bump() = %v, want 5", got)
	}
	want := []string{"get count 0", "set count 2", "get count 4"}
	if diff := cmp.Diff(want, j.entries); diff != "" {
		t.Errorf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldAccess_ReadOnlyFieldIsRejected(t *testing.T) {
	h := newHarness(t)
	_, balance := account(h)
	balance.ReadOnly = true

	o, err := h.run(onField("Tests.Audit", balance, &fieldAspect{j: &journal{}}))
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0051) {
		t.Errorf("expected AW0051, got:\n%s", h.sink.Summary())
	}
	if st := o.Weavers()[0].Core().State(); st != weaver.Rejected {
		t.Errorf("state = %s, want Rejected", st)
	}
}

func TestFieldAccess_AddressTakenWarns(t *testing.T) {
	h := newHarness(t)
	acct, balance := account(h)
	acct.Method("Ref", nil, nil, func(w *emit.Writer) {
		w.Ldthis()
		w.Emit(metadata.Instruction{Op: metadata.OP_LDFLDA, Field: acct.FieldRef("balance")})
		w.Op(metadata.OP_POP)
		w.Op(metadata.OP_RET)
	})

	h.weave(t, onField("Tests.Audit", balance, &fieldAspect{j: &journal{}}))
	if !h.sink.Has(diagnostics.AW0050) {
		t.Errorf("expected AW0050, got:\n%s", h.sink.Summary())
	}
}
