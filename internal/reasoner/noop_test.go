package reasoner

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

func TestNoopAlwaysDefers(t *testing.T) {
	n := NewNoop()
	result, err := n.EvaluatePromotion(context.Background(), claim.Claim{}, "advocacy", QueryContext{}, "ephemeral_to_task")
	if err != nil {
		t.Fatalf("EvaluatePromotion returned error: %v", err)
	}
	if result.Decision != DecisionDefer {
		t.Errorf("expected defer, got %s", result.Decision)
	}
}

func TestNoopOtherCapabilitiesUnsupported(t *testing.T) {
	n := NewNoop()

	if _, err := n.ExtractClaims(context.Background(), "text", "triples", QueryContext{}); !claimerr.Is(err, claimerr.Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
	if _, err := n.Synthesize(context.Background(), []string{"a"}, "ns"); !claimerr.Is(err, claimerr.Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
	if _, err := n.DetectContradictions(context.Background(), nil); !claimerr.Is(err, claimerr.Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
	if _, err := n.EvaluateConfidence(context.Background(), nil, QueryContext{}); !claimerr.Is(err, claimerr.Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
	if _, err := n.ClassifyDomain(context.Background(), claim.Claim{}, nil); !claimerr.Is(err, claimerr.Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
}

func TestNoopNotAvailable(t *testing.T) {
	if NewNoop().IsAvailable(context.Background()) {
		t.Error("noop reasoner should never report available")
	}
}
