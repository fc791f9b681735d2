package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "cell"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status(), "cell/status"},
		{"event", topics.Event("tag.gas.pressure.changed"), "cell/event/tag/gas/pressure/changed"},
		{"command", topics.Command("state"), "cell/command/state"},
		{"all commands", topics.AllCommands(), "cell/command/+"},
		{"response", topics.Response("tag", "req-1"), "cell/response/tag/req-1"},
		{"hardware", topics.Hardware("plc", "DB1/pressure"), "cell/hardware/plc/DB1/pressure"},
		{"all hardware", topics.AllHardware("plc"), "cell/hardware/plc/#"},
		{"default prefix", Topics{}.Status(), "spraycell/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Inverse(t *testing.T) {
	topics := Topics{Prefix: "cell"}

	if got, ok := topics.BrokerTopic("cell/event/state/changed"); !ok || got != "state.changed" {
		t.Errorf("BrokerTopic() = %q, %v", got, ok)
	}
	if _, ok := topics.BrokerTopic("other/event/state/changed"); ok {
		t.Error("BrokerTopic() accepted a foreign prefix")
	}

	if kind, ok := topics.CommandKind("cell/command/tag"); !ok || kind != "tag" {
		t.Errorf("CommandKind() = %q, %v", kind, ok)
	}
	if _, ok := topics.CommandKind("cell/command/tag/extra"); ok {
		t.Error("CommandKind() accepted a nested topic")
	}

	if addr, ok := topics.HardwareAddress("plc", "cell/hardware/plc/DB1/pressure"); !ok || addr != "DB1/pressure" {
		t.Errorf("HardwareAddress() = %q, %v", addr, ok)
	}
	if _, ok := topics.HardwareAddress("plc", "cell/hardware/other/x"); ok {
		t.Error("HardwareAddress() accepted another adapter")
	}
}
