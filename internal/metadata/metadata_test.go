package metadata_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

func shop() *testutil.Fixture {
	f := testutil.New("Shop")
	cart := f.Class("Shop.Cart", nil)
	cart.DefaultCtor(nil)
	cart.Field("total", framework.Int32)
	cart.Method("Add", framework.Int32, []typesystem.Type{framework.Int32}, func(w *emit.Writer) {
		w.Ldthis()
		w.Ldfld(cart.FieldRef("total"))
		w.Ldarg(1)
		w.Op(metadata.OP_ADD)
		w.Op(metadata.OP_RET)
	})
	cart.Apply(testutil.Attr(typesystem.TCon{Name: "Shop.Audited"}, "cart"))
	f.Module.SetResource("notes", []byte("hello"))
	return f
}

func TestBundle_RoundTrip(t *testing.T) {
	f := shop()
	data, err := metadata.Encode(f.Module)
	if err != nil {
		t.Fatal(err)
	}
	if !metadata.IsModule(data) {
		t.Fatal("encoded bundle lacks the module magic")
	}
	m, err := metadata.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := metadata.Disassemble(m), metadata.Disassemble(f.Module); got != want {
		t.Errorf("disassembly changed across encoding:\n%s", cmp.Diff(want, got))
	}
	cart := m.FindType("Shop.Cart")
	if cart == nil {
		t.Fatal("Shop.Cart lost")
	}
	if add := cart.FindMethod("Add", 1); add == nil || add.DeclaringType() != cart {
		t.Errorf("back-pointers not rebuilt")
	}
	if notes, ok := m.Resource("notes"); !ok || string(notes) != "hello" {
		t.Errorf("resource = %q, %v", notes, ok)
	}
}

func TestBundle_DecodeErrors(t *testing.T) {
	valid, err := metadata.Encode(shop().Module)
	if err != nil {
		t.Fatal(err)
	}
	wrongVersion := append([]byte(nil), valid...)
	wrongVersion[4] = 0x7f

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short", []byte("AW"), "too short"},
		{"magic", []byte("ZZZZ\x01rest"), "magic"},
		{"version", wrongVersion, "version"},
		{"truncated", valid[:len(valid)/2], "decoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.Decode(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want an error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestVerify_CleanModule(t *testing.T) {
	f := shop()
	if errs := metadata.Verify(f.Domain, f.Module); len(errs) != 0 {
		t.Errorf("got %v, want no errors", errs)
	}
}

func TestVerify_ReportsEveryDefect(t *testing.T) {
	f := shop()
	broken := f.Class("Shop.Broken", nil)
	broken.Static("Run", typesystem.TypeParam(0), []typesystem.Type{framework.Int32}, func(w *emit.Writer) {
		w.Ldarg(3)
		w.Ldloc(0)
		w.Br("nowhere")
		w.Call(&metadata.MethodRef{DeclaringType: f.Ref("Shop.Cart"), Name: "Remove"})
		w.Ldsfld(&metadata.FieldRef{DeclaringType: f.Ref("Shop.Cart"), Name: "missing"})
		w.Op(metadata.OP_RET)
	})

	var got []string
	for _, e := range metadata.Verify(f.Domain, f.Module) {
		got = append(got, e.Message)
	}
	want := []string{
		"generic parameter !0 out of range in !0",
		"argument 3 out of range",
		"local 0 out of range",
		"undefined label nowhere",
		"unresolved method Shop.Cart::Remove",
		"unresolved field Shop.Cart::missing",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d errors, want %d:\n%s", len(got), len(want), strings.Join(got, "\n"))
	}
	for i := range want {
		if !strings.HasPrefix(got[i], strings.Fields(want[i])[0]) {
			t.Errorf("error %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDisassemble(t *testing.T) {
	out := metadata.Disassemble(shop().Module)
	for _, want := range []string{
		"== module Shop 1.0.0 ==",
		".reference Aspects.Framework",
		".resource notes (5 bytes)",
		"Shop.Cart",
		"Add",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, out)
		}
	}
}
