package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// mockStore implements SettingsStore for testing.
type mockStore struct {
	data map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}

func (m *mockStore) SetSetting(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

// setTestKey sets a fake PostHog API key for testing and restores it on cleanup.
func setTestKey(t *testing.T) {
	t.Helper()
	old := posthogAPIKey
	posthogAPIKey = "phc_test_key"
	t.Cleanup(func() { posthogAPIKey = old })
}

func TestResolveInstanceID(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	id := resolveInstanceID(ctx, store)
	if id == "" {
		t.Fatal("expected non-empty instance ID")
	}

	stored, err := store.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("instance_id not persisted: %v", err)
	}
	if stored != id {
		t.Errorf("stored ID %q != returned ID %q", stored, id)
	}

	if id2 := resolveInstanceID(ctx, store); id2 != id {
		t.Errorf("second call returned %q, want %q", id2, id)
	}
}

func TestResolveInstanceIDNilStore(t *testing.T) {
	if id := resolveInstanceID(context.Background(), nil); id == "" {
		t.Fatal("expected non-empty instance ID even with nil store")
	}
}

func TestNewDisabledWhenNoKey(t *testing.T) {
	old := posthogAPIKey
	posthogAPIKey = ""
	defer func() { posthogAPIKey = old }()

	tracker := New(context.Background(), newMockStore(), func() Properties { return Properties{} })
	if tracker != nil {
		t.Fatal("expected nil tracker when no API key is set")
	}
}

func TestNewDisabledViaSetting(t *testing.T) {
	setTestKey(t)
	store := newMockStore()
	store.data["telemetry.enabled"] = "false"

	if tracker := New(context.Background(), store, func() Properties { return Properties{} }); tracker != nil {
		t.Fatal("expected nil tracker when disabled via setting")
	}
}

func TestNewDisabledViaEnv(t *testing.T) {
	setTestKey(t)

	for _, val := range []string{"0", "false", "False", "FALSE", "Off", "NO", "no"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("MCPGATE_TELEMETRY", val)
			if tracker := New(context.Background(), newMockStore(), func() Properties { return Properties{} }); tracker != nil {
				t.Fatalf("expected nil tracker when MCPGATE_TELEMETRY=%s", val)
			}
		})
	}
}

func TestNewEnabledByDefault(t *testing.T) {
	setTestKey(t)
	store := newMockStore()
	tracker := New(context.Background(), store, func() Properties { return Properties{} })
	if tracker == nil {
		t.Fatal("expected non-nil tracker by default")
	}
	if tracker.instanceID == "" {
		t.Fatal("expected non-empty instance ID")
	}
	if id, err := store.GetSetting(context.Background(), "instance_id"); err != nil || id != tracker.instanceID {
		t.Errorf("persisted ID %q (err %v) != tracker ID %q", id, err, tracker.instanceID)
	}
}

func TestTrackerStartShutdown(t *testing.T) {
	setTestKey(t)
	tracker := New(context.Background(), newMockStore(), func() Properties {
		return Properties{Version: "test"}
	})

	// The flush POSTs to PostHog and fails silently; the goroutine lifecycle
	// must still be clean.
	tracker.Start()
	time.Sleep(100 * time.Millisecond)
	tracker.Shutdown()
}

func TestStartShutdownNilTracker(t *testing.T) {
	var tracker *Tracker
	tracker.Start()
	tracker.Shutdown()
}
