package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

// endpoint stands in for a backend; down endpoints always fail.
type endpoint struct {
	name string
	down bool
}

func group(maxFailures int, eps ...endpoint) *FallbackGroup[endpoint] {
	fg := NewFallbackGroup(eps[0], eps[0].name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	for _, ep := range eps[1:] {
		fg.AddFallback(ep.name, ep)
	}
	return fg
}

// dial records the order in which endpoints are tried.
func dial(tried *[]string) func(endpoint) (string, error) {
	return func(ep endpoint) (string, error) {
		*tried = append(*tried, ep.name)
		if ep.down {
			return "", errTest
		}
		return "session@" + ep.name, nil
	}
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		eps       []endpoint
		want      string
		wantTried []string
		wantErr   bool
	}{
		{
			name:      "primary up",
			eps:       []endpoint{{name: "gemini"}, {name: "genai"}},
			want:      "session@gemini",
			wantTried: []string{"gemini"},
		},
		{
			name:      "primary down",
			eps:       []endpoint{{name: "gemini", down: true}, {name: "genai"}},
			want:      "session@genai",
			wantTried: []string{"gemini", "genai"},
		},
		{
			name:      "all down",
			eps:       []endpoint{{name: "gemini", down: true}, {name: "genai", down: true}},
			wantTried: []string{"gemini", "genai"},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var tried []string
			got, err := ExecuteWithResult(group(3, tt.eps...), dial(&tried))

			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
				}
			} else if err != nil {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried = %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestFallbackGroup_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()
	fg := group(2, endpoint{name: "gemini", down: true}, endpoint{name: "genai"})

	var tried []string
	for range 2 {
		if _, err := ExecuteWithResult(fg, dial(&tried)); err != nil {
			t.Fatalf("err = %v", err)
		}
	}
	if fg.States()["gemini"] != StateOpen {
		t.Fatalf("gemini breaker = %v, want open", fg.States()["gemini"])
	}

	tried = nil
	if err := fg.Execute(func(ep endpoint) error {
		tried = append(tried, ep.name)
		return nil
	}); err != nil {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(tried, []string{"genai"}) {
		t.Errorf("tried = %v, want genai only", tried)
	}
}

func TestFallbackGroup_AbortReturnsImmediately(t *testing.T) {
	t.Parallel()
	errCancel := errors.New("caller gave up")
	fg := NewFallbackGroup(endpoint{name: "gemini"}, "gemini", FallbackConfig{
		Abort: func(err error) bool { return errors.Is(err, errCancel) },
	})
	fg.AddFallback("genai", endpoint{name: "genai"})

	var tried []string
	err := fg.Execute(func(ep endpoint) error {
		tried = append(tried, ep.name)
		return errCancel
	})
	if !errors.Is(err, errCancel) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the abort error as-is", err)
	}
	if !slices.Equal(tried, []string{"gemini"}) {
		t.Errorf("tried = %v, want gemini only", tried)
	}
}

func TestFallbackGroup_Introspection(t *testing.T) {
	t.Parallel()
	fg := group(1, endpoint{name: "gemini", down: true}, endpoint{name: "genai"})
	var tried []string
	_, _ = ExecuteWithResult(fg, dial(&tried))

	if names := fg.Names(); !slices.Equal(names, []string{"gemini", "genai"}) {
		t.Errorf("Names = %v", names)
	}
	if st := fg.States(); st["gemini"] != StateOpen || st["genai"] != StateClosed {
		t.Errorf("States = %v", st)
	}
	if fg.Primary().name != "gemini" {
		t.Errorf("Primary = %+v", fg.Primary())
	}
}
