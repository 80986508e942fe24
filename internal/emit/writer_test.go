package emit

import (
	"errors"
	"testing"

	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

var int32Type = typesystem.TCon{Name: "System.Int32", Module: "Aspects.Framework"}

func TestFragment_WithdrawsLocalsOnError(t *testing.T) {
	md := &metadata.MethodDef{Name: "Run", Static: true}
	if err := Into(md, func(w *Writer) error {
		w.DefineLocal("kept", int32Type)
		w.Op(metadata.OP_RET)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := Fragment(md, func(w *Writer) error {
		w.DefineLocal("dropped", int32Type)
		w.DefineLocal("dropped2", int32Type)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if len(md.Body.Locals) != 1 || md.Body.Locals[0].Name != "kept" {
		t.Errorf("locals = %v, want only kept", md.Body.Locals)
	}
	if len(md.Body.Instructions) != 1 {
		t.Errorf("failed fragment touched the body: %v", md.Body.Instructions)
	}
}

func TestAppend(t *testing.T) {
	md := &metadata.MethodDef{Name: "Run", Static: true}
	for i := 0; i < 2; i++ {
		if err := Append(md, func(w *Writer) error {
			w.Ldc(int64(i))
			w.Op(metadata.OP_POP)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(md.Body.Instructions); got != 4 {
		t.Errorf("got %d instructions, want 4", got)
	}
}

func TestTry(t *testing.T) {
	md := &metadata.MethodDef{Name: "Run", Static: true}
	err := Into(md, func(w *Writer) error {
		end := w.DefineLabel()
		if err := w.Try(func(w *Writer) error {
			w.Leave(end)
			return nil
		}, Catch(nil, func(w *Writer) error {
			w.Op(metadata.OP_POP)
			w.Leave(end)
			return nil
		}), Finally(func(w *Writer) error { return nil })); err != nil {
			return err
		}
		w.MarkLabel(end)
		w.Op(metadata.OP_RET)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	try := md.Body.Instructions[0]
	if try.Op != metadata.OP_TRY || try.Try == nil {
		t.Fatalf("first instruction = %v, want a try block", try.Op)
	}
	if len(try.Try.Catches) != 1 || try.Try.Finally == nil {
		t.Errorf("got %d catches and finally %v", len(try.Try.Catches), try.Try.Finally)
	}

	if err := Into(md, func(w *Writer) error {
		return w.Try(func(w *Writer) error { return nil })
	}); err == nil {
		t.Errorf("a protected region without handlers was accepted")
	}
}

func TestDefineLabel_Unique(t *testing.T) {
	md := &metadata.MethodDef{Name: "Run", Static: true}
	seen := make(map[string]bool)
	if err := Into(md, func(w *Writer) error {
		for i := 0; i < 10; i++ {
			l := w.DefineLabel()
			if seen[l] {
				t.Errorf("label %s defined twice", l)
			}
			seen[l] = true
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
