package hooks

import (
	"runtime"

	"github.com/google/uuid"
)

const (
	spanKeyHookName     = "hook.name"
	spanKeyHookKind     = "hook.kind"
	spanKeyRegistry     = "hooks.registry"
	spanKeyDispatchID   = "hook.dispatch.id"
	spanKeySubscriberID = "hook.subscriber.id"
	spanKeyPriority     = "hook.subscriber.priority"
)

// keyNamespace scopes the name-based UUIDs of keyed subscribers.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("github.com/rbaliyan/hooks"))

// NewID generates a new random ID
func NewID() string {
	return uuid.NewString()
}

// SubscriberID returns the identifier a subscriber registered under name with
// the given key receives. An empty key yields a fresh random identifier.
func SubscriberID(name, key string) string {
	if key == "" {
		return NewID()
	}
	return uuid.NewSHA1(keyNamespace, []byte(name+"\x00"+key)).String()
}

// Caller get caller function name
func Caller(depth int) string {
	pc, _, _, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}
	details := runtime.FuncForPC(pc)
	if details != nil {
		return details.Name()
	}
	return ""
}
