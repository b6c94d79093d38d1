package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	t.Run("FillsType", func(t *testing.T) {
		req := &Request{ID: "r1", Method: "sessions.list"}
		data, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest failed: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded["type"] != TypeRequest {
			t.Errorf("type = %v, want %q", decoded["type"], TypeRequest)
		}
		if decoded["id"] != "r1" {
			t.Errorf("id = %v, want r1", decoded["id"])
		}
	})

	t.Run("RejectsMissingID", func(t *testing.T) {
		_, err := EncodeRequest(&Request{Method: "sessions.list"})
		if !errors.Is(err, ErrMissingID) {
			t.Errorf("err = %v, want ErrMissingID", err)
		}
	})

	t.Run("RejectsMissingMethod", func(t *testing.T) {
		_, err := EncodeRequest(&Request{ID: "r1"})
		if !errors.Is(err, ErrMissingMethod) {
			t.Errorf("err = %v, want ErrMissingMethod", err)
		}
	})

	t.Run("OmitsNilParams", func(t *testing.T) {
		data, err := EncodeRequest(&Request{ID: "r1", Method: "ping"})
		if err != nil {
			t.Fatalf("EncodeRequest failed: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if _, present := decoded["params"]; present {
			t.Error("params should be omitted when nil")
		}
	})
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("Response", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"res","id":"r1","ok":true,"payload":{"n":1}}`))
		if err != nil {
			t.Fatalf("DecodeEnvelope failed: %v", err)
		}
		if env.Response == nil {
			t.Fatal("Response is nil")
		}
		if env.Event != nil {
			t.Error("Event should be nil for a response")
		}
		if env.Response.ID != "r1" || !env.Response.OK {
			t.Errorf("unexpected response: %+v", env.Response)
		}
	})

	t.Run("ResponseWithoutID", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"type":"res","ok":true}`))
		if !errors.Is(err, ErrMissingID) {
			t.Errorf("err = %v, want ErrMissingID", err)
		}
	})

	t.Run("Event", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"event","event":"agent.online","payload":{"id":"a1"}}`))
		if err != nil {
			t.Fatalf("DecodeEnvelope failed: %v", err)
		}
		if env.Event == nil {
			t.Fatal("Event is nil")
		}
		if env.Event.Event != "agent.online" {
			t.Errorf("event name = %q, want agent.online", env.Event.Event)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"type":"req","id":"x","method":"m"}`))
		if err == nil {
			t.Fatal("expected error for inbound req envelope")
		}
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("err = %v, want ErrUnknownType", err)
		}
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte("not json"))
		if !errors.Is(err, ErrNotJSONObject) {
			t.Errorf("err = %v, want ErrNotJSONObject", err)
		}
	})
}

func TestResponseErrMessage(t *testing.T) {
	cases := []struct {
		name string
		res  Response
		want string
	}{
		{"Carried", Response{Error: &ErrorInfo{Message: "no such method"}}, "no such method"},
		{"EmptyMessage", Response{Error: &ErrorInfo{}}, "request failed"},
		{"NoError", Response{}, "request failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.res.ErrMessage(); got != tc.want {
				t.Errorf("ErrMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCanonicalConnectPayload(t *testing.T) {
	got := CanonicalConnectPayload(1, "dev1", "cli1", "observer", "operator",
		[]string{"operator.read", "operator.admin"}, 1700000000000, "bearer", "abc")
	want := "1|dev1|cli1|observer|operator|operator.read,operator.admin|1700000000000|bearer|abc"
	if got != want {
		t.Errorf("payload = %q, want %q", got, want)
	}

	t.Run("EmptyBearer", func(t *testing.T) {
		got := CanonicalConnectPayload(1, "d", "c", "m", "r", nil, 5, "", "n")
		want := "1|d|c|m|r||5||n"
		if got != want {
			t.Errorf("payload = %q, want %q", got, want)
		}
	})
}

func TestDecodeChallenge(t *testing.T) {
	nonce, err := DecodeChallenge(json.RawMessage(`{"nonce":"abc"}`))
	if err != nil {
		t.Fatalf("DecodeChallenge failed: %v", err)
	}
	if nonce != "abc" {
		t.Errorf("nonce = %q, want abc", nonce)
	}

	if _, err := DecodeChallenge(json.RawMessage(`[]`)); err == nil {
		t.Error("expected error for non-object payload")
	}
}
