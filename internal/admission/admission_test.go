package admission_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/admission"
)

func TestWhistleLimiterBurst(t *testing.T) {
	lim := admission.NewWhistleLimiter(1, 2)

	if !lim.Allow("guid-1") {
		t.Fatal("expected first publish to be allowed")
	}
	if !lim.Allow("guid-1") {
		t.Fatal("expected second publish within burst to be allowed")
	}
	if lim.Allow("guid-1") {
		t.Fatal("expected third immediate publish to be throttled")
	}
}

func TestWhistleLimiterPerGUID(t *testing.T) {
	lim := admission.NewWhistleLimiter(1, 1)

	if !lim.Allow("guid-a") {
		t.Fatal("expected guid-a's first publish to be allowed")
	}
	if !lim.Allow("guid-b") {
		t.Fatal("expected guid-b to have its own independent bucket")
	}
}

func TestWhistleLimiterRemove(t *testing.T) {
	lim := admission.NewWhistleLimiter(1, 1)
	lim.Allow("guid-1")
	lim.Remove("guid-1")
	if !lim.Allow("guid-1") {
		t.Fatal("expected a fresh bucket after Remove")
	}
}

func TestGuardRejectsOverCapacity(t *testing.T) {
	g := admission.NewGuard(1, 100, zerolog.Nop())

	release, _, ok := g.TryAcquire()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	defer release()

	if _, _, ok := g.TryAcquire(); ok {
		t.Fatal("expected second acquire to be rejected at capacity 1")
	}
}

func TestGuardReleaseFreesSlot(t *testing.T) {
	g := admission.NewGuard(1, 100, zerolog.Nop())

	release, _, ok := g.TryAcquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	release()

	if _, _, ok := g.TryAcquire(); !ok {
		t.Fatal("expected acquire to succeed again after release")
	}
}
