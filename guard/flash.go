package guard

import (
	"net/http"

	"github.com/alexedwards/scs/v2"
)

// FlashNotifier keeps denial messages in the user's scs session until the next
// page shows them. Requests must pass through Sessions.LoadAndSave.
type FlashNotifier struct {
	Sessions *scs.SessionManager

	// Key of the session value. Defaults to "flash".
	Key string
}

func (f *FlashNotifier) key() string {
	if f.Key == "" {
		return "flash"
	}
	return f.Key
}

// Notify stores message as the pending flash
func (f *FlashNotifier) Notify(r *http.Request, message string) {
	f.Sessions.Put(r.Context(), f.key(), message)
}

// Pop returns and clears the pending flash
func (f *FlashNotifier) Pop(r *http.Request) string {
	return f.Sessions.PopString(r.Context(), f.key())
}
