package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"nil", nil, false, false},
		{"cancelled", context.Canceled, false, false},
		{"no servers", nats.ErrNoServers, true, true},
		{"timeout", nats.ErrTimeout, true, true},
		{"no responders", nats.ErrNoResponders, true, true},
		{"unknown", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		class := classifyNATSError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
			t.Errorf("%s: classification = %+v, want retryable=%v record=%v",
				tc.name, class, tc.retryable, tc.record)
		}
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(nats.ErrTimeout)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("err = %v, want ErrTemporary", err)
	}

	plain := errors.New("bad payload")
	if got := wrapTemporaryIfNeeded(plain); !errors.Is(got, plain) || domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("non-retryable error must pass through, got %v", got)
	}

	if wrapTemporaryIfNeeded(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
