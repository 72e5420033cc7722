package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/windlass-dev/windlass"
)

func TestNewTracerStartEndNoPanic(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.Start(context.Background(), "workflow.execute",
		windlass.StringAttr("workflow.id", "wf-1"))
	if ctx == nil || span == nil {
		t.Fatalf("expected non-nil context and span")
	}
	span.SetAttr(windlass.StringAttr("workflow.status", "ok"))
	span.Event("step.done", windlass.IntAttr("iterations", 3))
	span.Error(errors.New("boom"))
	span.End()
}

func TestToOTELAttrCoversValueKinds(t *testing.T) {
	attrs := []windlass.SpanAttr{
		windlass.StringAttr("s", "v"),
		windlass.IntAttr("i", 1),
		windlass.BoolAttr("b", true),
		windlass.Float64Attr("f", 1.5),
		{Key: "other", Value: struct{ X int }{X: 1}},
	}
	for _, a := range attrs {
		kv := toOTELAttr(a)
		if string(kv.Key) != a.Key {
			t.Fatalf("expected key %q, got %q", a.Key, kv.Key)
		}
	}
}
