package cache

import (
	"errors"
	"fmt"
	"testing"

	"ledger-service/pkg/metrics"
)

func TestGetOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"hit", nil, metrics.OutcomeHit},
		{"miss", ErrKeyNotFound, metrics.OutcomeMiss},
		{"wrapped miss", fmt.Errorf("redis: %w", ErrKeyNotFound), metrics.OutcomeMiss},
		{"unavailable", ErrLayerUnavailable, metrics.OutcomeError},
		{"other", errors.New("boom"), metrics.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetOutcome(tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLayerError(t *testing.T) {
	if LayerError("L2-redis", "set", nil) != nil {
		t.Error("Expected nil for a nil error")
	}

	err := LayerError("L2-redis", "set", ErrLayerUnavailable)
	if !IsUnavailable(err) {
		t.Errorf("Expected wrapped ErrLayerUnavailable, got %v", err)
	}
	if want := "cache layer L2-redis set: cache: layer unavailable"; err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
