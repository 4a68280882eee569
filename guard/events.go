package guard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/panyam/realtyauth/client"
)

// Event is one server-sent event of a guard's stream
type Event struct {
	Decision string `json:"decision"`
	UserType string `json:"userType,omitempty"`
	To       string `json:"to,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Events streams the guard's decision as server-sent events, re-evaluating on
// every projection change. Consecutive identical decisions are sent once.
// The stream ends with a "redirect" event carrying the target and message the
// first time the guard denies.
func (g *Guard) Events(src Source) http.Handler {
	return g.EventsFunc(func(*http.Request) Source { return src })
}

// EventsFunc is Events over the source resolve picks for the request
func (g *Guard) EventsFunc(resolve SourceFunc) http.Handler {
	g.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		src := resolve(r)
		// Session middleware wraps the writer, the controller unwraps it
		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			g.Logger.Warn("event stream not supported", "guard", g.Name, "err", err)
			return
		}

		last := Decision(-1)
		for s := range src.Watch(r.Context()) {
			d := g.Evaluate(s)
			if d == last {
				continue
			}
			last = d

			switch d {
			case DecisionWait:
				writeEvent(w, "loading", Event{Decision: d.String()})
			case DecisionAllow:
				g.allow(r.Context(), src, s)
				writeEvent(w, "allow", Event{Decision: d.String(), UserType: string(s.UserType)})
			case DecisionDeny:
				// The response is already committed, so the message travels in
				// the event rather than through the Notifier
				g.Logger.Info("guard denied open page", "guard", g.Name, "state", s.State)
				writeEvent(w, "redirect", Event{Decision: d.String(), To: g.RedirectTo, Message: g.Message})
				rc.Flush()
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, name string, ev Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

var _ Source = (*client.SessionManager)(nil)
