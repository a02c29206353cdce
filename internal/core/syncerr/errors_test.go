package syncerr

import (
	"context"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("load %q: %w", "Arena", ErrTimeout)
	if got := KindOf(err); got != KindTimeout {
		t.Fatalf("expected %s, got %s", KindTimeout, got)
	}
	if got := KindOf(nil); got != KindNone {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
	if got := KindOf(context.Canceled); got != KindUnknown {
		t.Fatalf("expected %s for foreign error, got %s", KindUnknown, got)
	}
}
