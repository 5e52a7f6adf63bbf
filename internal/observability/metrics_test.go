package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("renders_total", map[string]string{"outcome": "ok"}, 3)
	r.SetGauge("render_duration_seconds", nil, 1.5)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `renders_total{outcome="ok"} 3`) {
		t.Fatalf("missing render counter in output: %s", out)
	}
	if !strings.Contains(out, `render_duration_seconds 1.5`) {
		t.Fatalf("missing duration gauge in output: %s", out)
	}
}

func TestCounterAccumulatesPerLabelSet(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("renders_total", map[string]string{"outcome": "ok"}, 1)
	r.IncCounter("renders_total", map[string]string{"outcome": "ok"}, 1)
	r.IncCounter("renders_total", map[string]string{"outcome": "compile_failed"}, 1)

	s := r.Snapshot()
	if len(s.Counters) != 2 {
		t.Fatalf("expected 2 counter series, got %d", len(s.Counters))
	}
	for _, c := range s.Counters {
		switch c.Labels["outcome"] {
		case "ok":
			if c.Value != 2 {
				t.Fatalf("ok counter = %v, want 2", c.Value)
			}
		case "compile_failed":
			if c.Value != 1 {
				t.Fatalf("compile_failed counter = %v, want 1", c.Value)
			}
		default:
			t.Fatalf("unexpected label set %v", c.Labels)
		}
	}
}

func TestSanitizeMetricName(t *testing.T) {
	if got := sanitizeMetricName("render.duration-seconds"); got != "render_duration_seconds" {
		t.Fatalf("sanitized name = %q", got)
	}
	if got := sanitizeMetricName(""); got != "meshforge_metric" {
		t.Fatalf("empty name fallback = %q", got)
	}
}
