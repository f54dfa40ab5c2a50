package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	staffio "github.com/liut/staffio-client"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/liut/inkwell/pkg/settings"
)

type M = render.M

// User online user
type User = staffio.User

// vars from staffio
var (
	UserFromContext = staffio.UserFromContext
)

const guestOwner = "guest"

func (s *server) authMw(redir bool) func(next http.Handler) http.Handler {
	if s.authzr != nil {
		return s.authzr.MiddlewareWordy(redir)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(rw, req)
		})
	}
}

// ownerOf returns the account that owns conversations of this request
func (s *server) ownerOf(r *http.Request) string {
	if s.authzr != nil {
		user, ok := UserFromContext(r.Context())
		return ownerFrom(user, ok)
	}
	return guestOwner
}

type uidHolder interface {
	GetUID() string
}

// ownerFrom falls back to the guest owner for a missing or anonymous user.
func ownerFrom(user uidHolder, ok bool) string {
	if ok && user != nil {
		if uid := user.GetUID(); len(uid) > 0 {
			return uid
		}
	}
	return guestOwner
}

func (s *server) sendLimiter() func(next http.Handler) http.Handler {
	rate, err := limiter.NewRateFromFormatted(s.cfg.SendRate)
	if err != nil {
		logger().Warnw("invalid send rate, fallback", "rate", s.cfg.SendRate, "err", err)
		rate = limiter.Rate{Period: time.Minute, Limit: 30}
	}
	return stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate)).Handler
}

func (s *server) strapRouter() {

	s.ar.Get("/ping", handlerPing)

	if s.authzr != nil {
		s.ar.Route("/auth", func(r chi.Router) {
			r.Get("/login", staffio.LoginHandler)
			r.Get("/logout", staffio.LogoutHandler)
			r.Method(http.MethodGet, "/callback", staffio.AuthCodeCallback())
		})
	}

	s.ar.Route("/api", func(r chi.Router) {
		r.Use(s.authMw(false))
		r.Get("/me", s.handleMe)

		limit := s.sendLimiter()
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.listConversations)
			r.Post("/", s.createConversation)
			r.Get("/{id}", s.getConversation)
			r.With(limit).Post("/{id}/messages", s.postMessage)
			r.With(limit).Get("/{id}/ws", s.wsMessages)
		})
	})

	if s.cfg.DocHandler != nil {
		s.ar.Group(func(r chi.Router) {
			r.Use(s.authMw(true))
			r.Get("/", s.cfg.DocHandler.ServeHTTP)
		})
		s.ar.NotFound(s.cfg.DocHandler.ServeHTTP)
	}
}

func handlerPing(w http.ResponseWriter, r *http.Request) {
	render.Data(w, r, []byte("Pong\n"))
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !settings.Current.AuthRequired {
		render.JSON(w, r, M{"uid": guestOwner})
		return
	}
	if user, ok := UserFromContext(r.Context()); ok {
		render.JSON(w, r, user)
	} else {
		apiFail(w, r, 401, "not login")
	}
}

func apiFail(w http.ResponseWriter, r *http.Request, status int, err interface{}) {
	res := render.M{
		"status": status,
		"error":  err,
	}
	switch ret := err.(type) {
	case error:
		res["message"] = ret.Error()
		res["error"] = ret.Error()
	case fmt.Stringer:
		res["message"] = ret.String()
	case string, *string, []byte:
		res["message"] = ret
	}
	render.Status(r, status)
	render.JSON(w, r, res)
}
