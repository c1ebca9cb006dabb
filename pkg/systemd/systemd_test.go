package systemd

import (
	"context"
	"testing"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	for name, fn := range map[string]func() (bool, error){
		"ready":    Ready,
		"stopping": Stopping,
		"status":   func() (bool, error) { return Status("ok") },
	} {
		sent, err := fn()
		if sent || err != nil {
			t.Errorf("%s: sent=%v err=%v", name, sent, err)
		}
	}
	if err := Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("Watchdog without WATCHDOG_USEC: %v", err)
	}
}
