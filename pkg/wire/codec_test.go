package wire

import (
	"errors"
	"testing"
)

func TestHandshakeFrames(t *testing.T) {
	t.Run("Challenge", func(t *testing.T) {
		data, err := EncodeChallenge(&Challenge{
			Challenge:            []byte{1, 2, 3},
			SupportedAPIVersions: []string{"1.0", "1.1"},
		})
		if err != nil {
			t.Fatalf("EncodeChallenge failed: %v", err)
		}

		c, err := DecodeChallenge(data)
		if err != nil {
			t.Fatalf("DecodeChallenge failed: %v", err)
		}
		if c.Handshake != HandshakeChallenge {
			t.Errorf("Handshake = %q, want %q", c.Handshake, HandshakeChallenge)
		}
		if len(c.SupportedAPIVersions) != 2 {
			t.Errorf("SupportedAPIVersions = %v", c.SupportedAPIVersions)
		}
	})

	t.Run("AnswerAuthenticated", func(t *testing.T) {
		data, err := EncodeAnswer(&Answer{
			Type:             AnswerAuthenticated,
			ClientAPIVersion: "1.0",
			OrganizationID:   "CoolOrg",
			DeviceID:         "alice@laptop",
			SignedAnswer:     []byte{9, 9, 9},
		})
		if err != nil {
			t.Fatalf("EncodeAnswer failed: %v", err)
		}

		a, err := DecodeAnswer(data)
		if err != nil {
			t.Fatalf("DecodeAnswer failed: %v", err)
		}
		if a.Type != AnswerAuthenticated || a.DeviceID != "alice@laptop" {
			t.Errorf("unexpected answer: %+v", a)
		}
	})

	t.Run("Result", func(t *testing.T) {
		data, err := EncodeResult(&Result{Result: ResultRevokedDevice, ServerAPIVersion: "1.0"})
		if err != nil {
			t.Fatalf("EncodeResult failed: %v", err)
		}

		r, err := DecodeResult(data)
		if err != nil {
			t.Fatalf("DecodeResult failed: %v", err)
		}
		if r.Result != ResultRevokedDevice {
			t.Errorf("Result = %q, want %q", r.Result, ResultRevokedDevice)
		}
	})
}

func TestDecodeWrongFrame(t *testing.T) {
	data, err := Marshal(map[int]string{1: HandshakeResult})
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecodeChallenge(data)
	if !errors.Is(err, ErrUnexpectedFrame) {
		t.Errorf("expected ErrUnexpectedFrame, got %v", err)
	}

	_, err = DecodeChallenge([]byte{0xff, 0x00})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestAnswerValidate(t *testing.T) {
	tests := []struct {
		name    string
		answer  Answer
		wantErr bool
	}{
		{"AnonymousOK", Answer{Handshake: HandshakeAnswer, Type: AnswerAnonymous, ClientAPIVersion: "1.0", OrganizationID: "o"}, false},
		{"AnonymousNoOrg", Answer{Handshake: HandshakeAnswer, Type: AnswerAnonymous, ClientAPIVersion: "1.0"}, true},
		{"AuthenticatedNoSignature", Answer{Handshake: HandshakeAnswer, Type: AnswerAuthenticated, ClientAPIVersion: "1.0", OrganizationID: "o", DeviceID: "a@b"}, true},
		{"AdministrationOK", Answer{Handshake: HandshakeAnswer, Type: AnswerAdministration, ClientAPIVersion: "1.0", Token: "t"}, false},
		{"AdministrationNoToken", Answer{Handshake: HandshakeAnswer, Type: AnswerAdministration, ClientAPIVersion: "1.0"}, true},
		{"NoVersion", Answer{Handshake: HandshakeAnswer, Type: AnswerAdministration, Token: "t"}, true},
		{"UnknownType", Answer{Handshake: HandshakeAnswer, Type: 42, ClientAPIVersion: "1.0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.answer.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestControlMessages(t *testing.T) {
	for _, typ := range []ControlMessageType{ControlPing, ControlPong, ControlClose} {
		t.Run(typ.String(), func(t *testing.T) {
			data, err := EncodeControlMessage(&ControlMessage{Type: typ, Sequence: 7})
			if err != nil {
				t.Fatalf("EncodeControlMessage failed: %v", err)
			}
			if !IsControlMessage(data) {
				t.Fatal("IsControlMessage() = false for a control frame")
			}

			msg, err := DecodeControlMessage(data)
			if err != nil {
				t.Fatalf("DecodeControlMessage failed: %v", err)
			}
			if msg.Type != typ || msg.Sequence != 7 {
				t.Errorf("got %+v", msg)
			}
		})
	}

	t.Run("HandshakeFrameIsNotControl", func(t *testing.T) {
		data, err := EncodeResult(&Result{Result: ResultOK})
		if err != nil {
			t.Fatal(err)
		}
		if IsControlMessage(data) {
			t.Error("result frame reported as control message")
		}
		if _, err := DecodeControlMessage(data); !errors.Is(err, ErrNotControlMessage) {
			t.Errorf("expected ErrNotControlMessage, got %v", err)
		}
	})

	t.Run("OtherTagIsNotControl", func(t *testing.T) {
		data, err := Marshal(struct {
			A int `cbor:"1,keyasint"`
		}{A: 1})
		if err != nil {
			t.Fatal(err)
		}
		if IsControlMessage(data) {
			t.Error("plain map reported as control message")
		}
	})
}

func TestPingRequest(t *testing.T) {
	req, err := NewPingRequest("hello")
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if got.Cmd != "ping" {
		t.Errorf("Cmd = %q, want ping", got.Cmd)
	}

	var p PingPayload
	if err := Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if p.Ping != "hello" {
		t.Errorf("Ping = %q, want hello", p.Ping)
	}

	if _, err := EncodeRequest(&Request{}); !errors.Is(err, ErrMissingCommand) {
		t.Errorf("expected ErrMissingCommand, got %v", err)
	}
}
