package diagnostics

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSink_CollectsAllErrors(t *testing.T) {
	s := NewSink(nil, 0)
	s.Write(Error, AW0020, "App.C::M", "Trace")
	s.Write(Warning, AW0050, "App.C::f", "App.C::Run")
	s.Write(Error, AW0012, "App.C", "App.IFoo")

	if got, want := s.ErrorCount(), 2; got != want {
		t.Fatalf("ErrorCount() = %d, want %d", got, want)
	}
	if got := len(s.Messages()); got != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", got)
	}
	if !s.Has(AW0012) {
		t.Errorf("Has(AW0012) = false, want true")
	}
	if got, want := s.Messages()[0].Text, "aspect Trace requires a method body"; got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestSink_FatalUnwinds(t *testing.T) {
	s := NewSink(nil, 0)
	run := func() (err error) {
		defer Recover(&err)
		s.Write(Fatal, AW0009, "", "App.Trace")
		t.Fatal("Write(Fatal) returned")
		return nil
	}
	err := run()
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want *FatalError", err)
	}
	if fatal.Message.Code != AW0009 {
		t.Errorf("code = %s, want AW0009", fatal.Message.Code)
	}
	if len(s.Messages()) != 1 {
		t.Errorf("fatal message was not recorded before unwinding")
	}
}

func TestSink_CheckpointAfterCeiling(t *testing.T) {
	s := NewSink(nil, 2)
	checkpoint := func() (err error) {
		defer Recover(&err)
		s.Checkpoint()
		return nil
	}
	for i := 0; i < 2; i++ {
		s.Write(Error, AW0001, "", "x")
		if err := checkpoint(); err != nil {
			t.Fatalf("checkpoint after %d errors: %v", i+1, err)
		}
	}
	s.Write(Error, AW0001, "", "x")
	if err := checkpoint(); err == nil {
		t.Fatal("checkpoint above the ceiling did not abort")
	}
	if !s.Has(AW0002) {
		t.Errorf("ceiling message AW0002 missing")
	}
}

func TestRecover_RepanicsForeignPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
	}()
	func() {
		var err error
		defer Recover(&err)
		panic("boom")
	}()
}

func TestSink_MirrorsToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewSink(zap.New(core), 0)
	s.Write(Warning, AW0050, "App.C::f", "App.C::Run")

	entries := logs.FilterField(zap.String("code", "AW0050")).All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %s, want warn", entries[0].Level)
	}
}
