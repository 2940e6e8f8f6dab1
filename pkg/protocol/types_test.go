package protocol_test

import (
	"testing"

	"vitalsync/pkg/protocol"
)

func TestDeviceSyncStateValid(t *testing.T) {
	t.Parallel()

	valid := []protocol.DeviceSyncState{
		protocol.StateDisconnected,
		protocol.StateSyncing,
		protocol.StateSynchronized,
		protocol.StateError,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("state %q should be valid", s)
		}
	}

	if protocol.DeviceSyncState("bogus").Valid() {
		t.Error("bogus state should not be valid")
	}
}

func TestDeviceTypeRemote(t *testing.T) {
	t.Parallel()

	if !protocol.DeviceAndroid.Remote() {
		t.Error("android devices are commanded over the device link")
	}
	if !protocol.DeviceShimmer.Remote() {
		t.Error("shimmer devices are commanded over the device link")
	}
	if protocol.DeviceWebcam.Remote() {
		t.Error("webcams are driven via callbacks, not the device link")
	}
}

func TestPriorityString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p    protocol.Priority
		want string
	}{
		{protocol.PriorityLow, "low"},
		{protocol.PriorityNormal, "normal"},
		{protocol.PriorityHigh, "high"},
		{protocol.PriorityCritical, "critical"},
		{protocol.Priority(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Priority(%d): expected %q, got %q", int(tt.p), tt.want, got)
		}
	}
}
