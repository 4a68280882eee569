package ui

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/panyam/realtyauth/client"
	"github.com/panyam/realtyauth/guard"
)

// visitorKey is the scs session key holding the visitor id
const visitorKey = "visitor"

// MsgSessionUnavailable is shown when a visitor's session cannot be opened
const MsgSessionUnavailable = "Your session is unavailable right now, please try again"

type visitor struct {
	id       string
	manager  SessionManager
	active   int // requests in flight, event streams included
	lastSeen time.Time
}

type visitorCtxKey struct{}

// withVisitor attaches the manager of a returning visitor to the request
func (s *Server) withVisitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.Sessions.GetString(r.Context(), visitorKey)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		v, err := s.acquire(r.Context(), id)
		if err != nil {
			s.Logger.Error("could not open visitor session", "visitor", id, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, Outcome{Message: MsgSessionUnavailable, Kind: "unavailable"})
			return
		}
		defer s.release(v)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorCtxKey{}, v)))
	})
}

// source is the session projection of the request's visitor. Browsers that
// never signed in see an anonymous session.
func (s *Server) source(r *http.Request) guard.Source {
	if v, ok := r.Context().Value(visitorCtxKey{}).(*visitor); ok {
		return v.manager
	}
	return anonymous{}
}

// visitorManager returns the manager of the request's visitor, making the
// browser a visitor first if it is not one yet. done must be called once the
// request is finished with the manager.
func (s *Server) visitorManager(w http.ResponseWriter, r *http.Request) (SessionManager, func(), bool) {
	if v, ok := r.Context().Value(visitorCtxKey{}).(*visitor); ok {
		return v.manager, func() {}, true
	}
	id := uuid.NewString()
	v, err := s.acquire(r.Context(), id)
	if err != nil {
		s.Logger.Error("could not open visitor session", "visitor", id, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, Outcome{Message: MsgSessionUnavailable, Kind: "unavailable"})
		return nil, nil, false
	}
	s.Sessions.Put(r.Context(), visitorKey, id)
	return v.manager, func() { s.release(v) }, true
}

func (s *Server) acquire(ctx context.Context, id string) (*visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.evictIdleLocked(now)

	v, ok := s.visitors[id]
	if !ok {
		m, err := s.NewManager(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, fmt.Errorf("opening session of visitor %s: %w", id, err)
		}
		v = &visitor{id: id, manager: m}
		s.visitors[id] = v
		s.Logger.Debug("opened visitor session", "visitor", id, "visitors", len(s.visitors))
	}
	v.active++
	v.lastSeen = now
	return v, nil
}

func (s *Server) release(v *visitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.active--
	v.lastSeen = time.Now()
}

func (s *Server) evictIdleLocked(now time.Time) {
	for id, v := range s.visitors {
		if v.active > 0 || now.Sub(v.lastSeen) < s.IdleTimeout {
			continue
		}
		closeManager(v.manager)
		delete(s.visitors, id)
		s.Logger.Debug("closed idle visitor session", "visitor", id)
	}
}

// VisitorCount reports how many visitor managers are open
func (s *Server) VisitorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

func closeManager(m SessionManager) {
	if c, ok := m.(interface{ Close() }); ok {
		c.Close()
	}
}

// anonymous is the session of a browser that has no visitor yet
type anonymous struct{}

func (anonymous) Session() client.Session {
	return client.Session{State: client.StateAnonymous}
}

func (anonymous) Watch(ctx context.Context) <-chan client.Session {
	ch := make(chan client.Session, 1)
	ch <- client.Session{State: client.StateAnonymous}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
