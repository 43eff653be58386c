// Package server assembles the bot manager's HTTP surface: the public bot
// and meeting routes, the worker-only callback routes, and the health
// endpoints.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/bus"
	"github.com/lukelocksmith/vexa/internal/botmanager/callback"
	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/lifecycle"
	"github.com/lukelocksmith/vexa/internal/botmanager/orchestrator"
	"github.com/lukelocksmith/vexa/internal/common/botinfo"
	"github.com/lukelocksmith/vexa/internal/common/httpx"
	"github.com/lukelocksmith/vexa/internal/common/logtrace"
	commonmiddleware "github.com/lukelocksmith/vexa/internal/common/middleware"
)

// BotManagerServer serves the control-plane API.
type BotManagerServer struct {
	Router      *chi.Mux
	store       db.Store
	coordinator *lifecycle.Coordinator
	ingress     *callback.Ingress
}

// CreateNewServer wires the coordinator and callback ingress over the given
// collaborators.
func CreateNewServer(store db.Store, cmdBus bus.CommandBus, orch orchestrator.Orchestrator) (*BotManagerServer, error) {
	s := &BotManagerServer{
		Router:      chi.NewRouter(),
		store:       store,
		coordinator: lifecycle.New(store, cmdBus, orch),
		ingress:     callback.NewIngress(store),
	}
	return s, nil
}

// MountHandlers attaches middleware and all route groups to the router.
func (s *BotManagerServer) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	s.Router.Use(commonmiddleware.SetTimeout(config.Config().GetStartRPCTimeoutOrDefault()))
	if config.Config().HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Authorization", "X-User-ID"},
			AllowCredentials: true,
		}))
	}

	s.mountResourceHandlers(s.Router)

	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			fmt.Printf("Logging err: %s\n", err.Error())
		}
	}
}

func (s *BotManagerServer) mountResourceHandlers(r chi.Router) {
	r.Mount("/bots", s.botsRouter())
	r.Mount("/meetings", s.meetingsRouter())
	// Worker-only; authenticated by session UID, not user identity.
	r.Mount("/callback", s.ingress.Router())
	r.Get("/", s.getHealth)
	r.Get("/ready", s.getReadiness)
	r.Get("/version", s.getVersion)
}

type getVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *BotManagerServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &getVersionRsp{
		ServerVersion: "Vexa Bot Manager: " + botinfo.ServerVersion,
		ApiVersion:    botinfo.ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *BotManagerServer) getHealth(w http.ResponseWriter, r *http.Request) {
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bot-manager",
	})
}

func (s *BotManagerServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")

	if err := s.store.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("store unreachable during readiness check")
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "store connection failed",
		})
		return
	}

	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
