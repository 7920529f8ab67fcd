package payload

import "sync"

var (
	mu       sync.RWMutex
	registry = map[string]Codec{
		"application/json": JSON{},
	}
)

// Register adds a codec to the global registry under its ContentType().
func Register(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[codec.ContentType()] = codec
}

// Get retrieves a codec by content type from the global registry.
func Get(contentType string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[contentType]
	return c, ok
}
