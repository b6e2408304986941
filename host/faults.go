package host

import (
	"errors"
	"fmt"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/world"
)

// runAndCatchPanics executes one guest invocation inside the protective
// boundary. A panic is recovered and stringified; a normal error is
// rendered with its root cause appended when distinct from the surface
// message. failed is true when errText carries a failure.
func runAndCatchPanics[T any](f func() (T, error)) (result T, errText string, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			failed = true
			switch v := r.(type) {
			case string:
				errText = v
			case error:
				errText = v.Error()
			default:
				errText = fmt.Sprintf("%v", v)
			}
		}
	}()

	result, err := f()
	if err != nil {
		return result, renderError(err), true
	}
	return result, "", false
}

// renderError formats a guest failure, preserving the root cause when it
// differs from the surface message.
func renderError(err error) string {
	text := err.Error()
	if root := rootCause(err); root != nil && root.Error() != text {
		text = text + "\nroot cause: " + root.Error()
	}
	return text
}

// rootCause walks the Unwrap chain to its end.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// recordError routes one failure through the containment policy: notify
// the messenger, append to the module's bounded log, and force-unload the
// module when the log exceeds ErrorLimit. Unload is the only path that
// clears the log.
func (h *Host) recordError(id world.EntityID, text string) {
	h.messenger(h.world, id, modhost.Error, "Runtime error: "+text)

	m := h.modules[id]
	if m == nil {
		return
	}

	m.Errors = append(m.Errors, text)
	if len(m.Errors) > ErrorLimit {
		h.Unload(id, "too many errors")
	}
}
