package payload

import "github.com/vmihailenco/msgpack/v5"

// MsgPack implements Codec using MessagePack serialization.
// Struct fields are named by their msgpack tags, so types served over
// monitor/http carry both json and msgpack tags.
type MsgPack struct{}

// Encode serializes v to MessagePack bytes.
func (MsgPack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes MessagePack bytes into v.
func (MsgPack) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// ContentType returns the MIME type for MessagePack.
func (MsgPack) ContentType() string {
	return "application/msgpack"
}

// Compile-time check.
var _ Codec = MsgPack{}

func init() {
	Register(MsgPack{})
}
