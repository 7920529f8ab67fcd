package payload

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sample struct {
	Name  string `json:"name" msgpack:"name"`
	Count int    `json:"count" msgpack:"count"`
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", "application/json"},
		{"*/*", "application/json"},
		{"application/json", "application/json"},
		{"application/msgpack", "application/msgpack"},
		{"text/html, application/msgpack;q=0.9", "application/msgpack"},
		{"application/json, application/msgpack", "application/json"},
		{"not a media type;;", "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			if got := Negotiate(tt.accept).ContentType(); got != tt.want {
				t.Errorf("Negotiate(%q) = %s, want %s", tt.accept, got, tt.want)
			}
		})
	}
}

func TestCodecs(t *testing.T) {
	in := sample{Name: "order.created", Count: 3}
	for _, codec := range []Codec{JSON{}, MsgPack{}} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			data, err := codec.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var out sample
			if err := codec.Decode(data, &out); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	if _, ok := Get("application/json"); !ok {
		t.Error("expected JSON codec")
	}
	if _, ok := Get("application/msgpack"); !ok {
		t.Error("expected MessagePack codec")
	}
	if _, ok := Get("application/x-unknown"); ok {
		t.Error("expected no codec for unknown type")
	}
	if Default().ContentType() != "application/json" {
		t.Error("expected JSON default")
	}
}
