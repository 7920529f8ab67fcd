// Package payload provides content-type keyed codecs.
//
// monitor/http uses it to encode responses in the format the client asks for
// through the Accept header:
//
//	codec := payload.Negotiate(r.Header.Get("Accept"))
//	data, err := codec.Encode(status)
//	w.Header().Set("Content-Type", codec.ContentType())
//
// JSON is always available and is the fallback. MessagePack registers itself
// as "application/msgpack".
package payload

import (
	"mime"
	"strings"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes v to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into v, which must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}

// Negotiate picks the first registered codec named in an Accept header value.
// Parameters such as q-values are ignored; entries are tried in header order.
// Returns the default codec when nothing matches.
func Negotiate(accept string) Codec {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if c, ok := Get(mediaType); ok {
			return c
		}
	}
	return Default()
}
