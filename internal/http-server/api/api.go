package api

import (
	"SupportDesk/entity"
	"SupportDesk/internal/config"
	"SupportDesk/internal/http-server/handlers/conversation"
	"SupportDesk/internal/http-server/handlers/errors"
	"SupportDesk/internal/http-server/handlers/inbound"
	"SupportDesk/internal/http-server/middleware/authenticate"
	"SupportDesk/internal/http-server/middleware/timeout"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/ws"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	conversation.Core
	inbound.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler, hub *ws.Hub) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  NewRouter(log, handler, hub, conf.Listen.AllowedOrigins),
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}

// NewRouter mounts the desk api. The push endpoint sits outside the bearer
// middleware since its token arrives in the query string.
func NewRouter(log *slog.Logger, handler Handler, hub *ws.Hub, origins []string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWs(hub, handler, log, w, r)
		})

		v1.Group(func(r chi.Router) {
			r.Use(timeout.Timeout(5))
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(authenticate.New(log, handler))

			r.Route("/conversations", func(r chi.Router) {
				r.Use(authenticate.RequireRole(entity.RoleOperator))
				r.Get("/", conversation.List(log, handler))
				r.Get("/{id}", conversation.Get(log, handler))
				r.Post("/{id}/take-control", conversation.TakeControl(log, handler))
				r.Post("/{id}/messages", conversation.SendMessage(log, handler))
				r.Post("/{id}/close", conversation.Close(log, handler))
			})
			r.Route("/inbound", func(r chi.Router) {
				r.Use(authenticate.RequireRole(entity.RoleChannel))
				r.Post("/", inbound.Receive(log, handler))
			})
		})
	})

	return router
}
