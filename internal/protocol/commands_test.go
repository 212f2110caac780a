package protocol

import (
	"reflect"
	"testing"
	"time"
)

func TestFixedCommands(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"version", VersionRequestCmd(), "version?"},
		{"acc version", AccVersionRequestCmd(), "acc_ver?"},
		{"debug on", DebugModeCmd(true), "deb_log:1"},
		{"debug off", DebugModeCmd(false), "deb_log:0"},
		{"device log", DeviceLogRequestCmd(), "cat_log"},
		{"remove key", RemovePublicKeyCmd(), "rm_key"},
		{"set key", SetPublicKeyCmd("abc123"), "key:abc123"},
		{"data request", DataRequestCmd("sys"), "sys:?"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestSetClockCmd_WholeSeconds(t *testing.T) {
	now := time.Unix(1700000000, 987654321)
	if got := SetClockCmd(now); got != "set_clk:1700000000" {
		t.Errorf("SetClockCmd() = %q, want set_clk:1700000000", got)
	}
}

func TestKeyCommandDetection(t *testing.T) {
	if !IsSetPublicKeyCmd("key:abc") {
		t.Error("key:abc not detected as set key command")
	}
	if IsSetPublicKeyCmd("sys:1,2,3") {
		t.Error("sys:1,2,3 detected as set key command")
	}
	if IsSetPublicKeyCmd("ke") {
		t.Error("short string detected as set key command")
	}
	if !IsRemovePublicKeyCmd("rm_key") {
		t.Error("rm_key not detected")
	}
}

func TestDataSetCmd(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		values []string
		n      int
		want   string
	}{
		{"all values", "sys", []string{"1", "2", "3"}, 3, "sys:1,2,3"},
		{"first n", "4", []string{"a", "b", "c"}, 2, "4:a,b"},
		{"n beyond values", "4", []string{"a"}, 5, "4:a"},
		{"empty values kept", "7", []string{"3", "", "2"}, 3, "7:3,,2"},
		{"zero", "sys", []string{"1"}, 0, "sys:"},
		{"negative", "sys", []string{"1"}, -1, "sys:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DataSetCmd(tt.prefix, tt.values, tt.n); got != tt.want {
				t.Errorf("DataSetCmd() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataSetCmd_RoundTrip(t *testing.T) {
	cmds := []string{"sys:1,2,3", "5:3,7,,2", "12:x", "0:", "sys:,,"}
	for _, cmd := range cmds {
		prefix, values, ok := DecodeDataSetCmd(cmd)
		if !ok {
			t.Fatalf("DecodeDataSetCmd(%q) not ok", cmd)
		}
		if got := DataSetCmd(prefix, values, len(values)); got != cmd {
			t.Errorf("round trip of %q = %q", cmd, got)
		}
	}

	if _, _, ok := DecodeDataSetCmd("version?"); ok {
		t.Error("DecodeDataSetCmd accepted a command without ':'")
	}
}

func TestParseDataValues(t *testing.T) {
	if got := ParseDataValues("3,7,,2", 0); !reflect.DeepEqual(got, []string{"3", "7", "", "2"}) {
		t.Errorf("ParseDataValues(no limit) = %q", got)
	}
	if got := ParseDataValues("3,7,,2", 2); !reflect.DeepEqual(got, []string{"3", "7"}) {
		t.Errorf("ParseDataValues(limit 2) = %q", got)
	}
}
