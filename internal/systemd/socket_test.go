package systemd

import (
	"testing"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners failed: %v", err)
	}
	if listeners.Activated || listeners.Metrics != nil {
		t.Errorf("Expected no activated listeners, got %+v", listeners)
	}
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	for name, notify := range map[string]func() error{
		"ready":    NotifyReady,
		"stopping": NotifyStopping,
		"watchdog": NotifyWatchdog,
	} {
		if err := notify(); err != nil {
			t.Errorf("%s: expected no error outside systemd, got %v", name, err)
		}
	}
}

func TestWatchdogIntervalDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	if got := WatchdogInterval(); got != 0 {
		t.Errorf("Expected watchdog disabled, got %s", got)
	}
}
