package models

import "testing"

func TestParseControl(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantOK   bool
		wantType string
	}{
		{"identify", []byte(`{"type":"ping","message":"identify_client"}`), true, ControlPing},
		{"leading whitespace", []byte("  \n{\"type\":\"ping\"}"), true, ControlPing},
		{"missing type", []byte(`{"message":"hi"}`), false, ""},
		{"malformed json", []byte(`{"type":"ping"`), false, ""},
		{"json array", []byte(`["ping"]`), false, ""},
		{"pcm starting with brace", []byte{'{', 0x00, 0x7f, 0x80, 0xff}, false, ""},
		{"empty", nil, false, ""},
		{"silence", make([]byte, 512), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := ParseControl(tt.data)
			if ok != tt.wantOK {
				t.Fatalf("ParseControl() ok = %v, want %v", ok, tt.wantOK)
			}
			if f.Type != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, f.Type)
			}
		})
	}
}
