package log

import "testing"

func TestEnumNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(7).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerHandshake.String(), "HANDSHAKE"},
		{LayerApplication.String(), "APPLICATION"},
		{Layer(3).String(), "UNKNOWN"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryControl.String(), "CONTROL"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{Category(9).String(), "UNKNOWN"},
		{RoleClient.String(), "CLIENT"},
		{RoleBackend.String(), "BACKEND"},
		{MessageTypeRequest.String(), "REQUEST"},
		{MessageTypeResponse.String(), "RESPONSE"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityHandshake.String(), "HANDSHAKE"},
		{StateEntityPool.String(), "POOL"},
		{ControlMsgPing.String(), "PING"},
		{ControlMsgPong.String(), "PONG"},
		{ControlMsgClose.String(), "CLOSE"},
		{ControlMsgType(200).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

// Values are persisted in capture files and must not move.
func TestEnumValuesStable(t *testing.T) {
	if DirectionIn != 0 || DirectionOut != 1 {
		t.Error("Direction values changed")
	}
	if LayerTransport != 0 || LayerHandshake != 1 || LayerApplication != 2 {
		t.Error("Layer values changed")
	}
	if CategoryMessage != 0 || CategoryControl != 1 || CategoryState != 2 || CategoryError != 3 {
		t.Error("Category values changed")
	}
	if RoleClient != 0 || RoleBackend != 1 {
		t.Error("Role values changed")
	}
	if ControlMsgPing != 0 || ControlMsgPong != 1 || ControlMsgClose != 2 {
		t.Error("ControlMsgType values changed")
	}
}

func TestParseNames(t *testing.T) {
	if l, err := ParseLayer("handshake"); err != nil || l != LayerHandshake {
		t.Errorf("ParseLayer(handshake) = %v, %v", l, err)
	}
	if l, err := ParseLayer("Application"); err != nil || l != LayerApplication {
		t.Errorf("ParseLayer(Application) = %v, %v", l, err)
	}
	if d, err := ParseDirection("OUT"); err != nil || d != DirectionOut {
		t.Errorf("ParseDirection(OUT) = %v, %v", d, err)
	}
	if c, err := ParseCategory("error"); err != nil || c != CategoryError {
		t.Errorf("ParseCategory(error) = %v, %v", c, err)
	}

	for _, bad := range []string{"", "unknown", "wire"} {
		if _, err := ParseLayer(bad); err == nil {
			t.Errorf("ParseLayer(%q) should fail", bad)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("ParseDirection(sideways) should fail")
	}
	if _, err := ParseCategory("frame"); err == nil {
		t.Error("ParseCategory(frame) should fail")
	}
}
