package notify_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/notify"
)

func TestDialWithEmptyURLIsDisabled(t *testing.T) {
	h := notify.Dial("", zerolog.Nop())
	if h.Enabled() {
		t.Fatal("expected empty url to produce a disabled Hinter")
	}

	// Publish must be a safe no-op.
	h.Publish("general")

	hints, unsubscribe := h.Subscribe([]string{"general"})
	if hints != nil {
		t.Fatal("expected a nil hints channel when disabled")
	}
	unsubscribe()
	h.Close()
}

func TestDialWithUnreachableURLDisablesRatherThanBlocking(t *testing.T) {
	h := notify.Dial("nats://127.0.0.1:1", zerolog.Nop())
	if h.Enabled() {
		t.Fatal("expected connect failure against a closed port to disable the Hinter")
	}
	h.Publish("general")
	h.Close()
}
