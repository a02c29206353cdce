// Package status serves the authority's HTTP status and control surface
// and the websocket presentation feed.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap"
)

// Catalog lists and resolves loadable scenes.
type Catalog interface {
	scene.Catalog
	Names() []string
}

// Deps holds what the status surface reads and controls.
type Deps struct {
	Name    string
	Ctx     context.Context // scene loads started over HTTP run under it
	Peers   *peer.Registry
	Phase   *phase.Machine
	Scenes  *scene.Coordinator
	Catalog Catalog
	Feed    *Feed
	Log     *zap.Logger
}

type Server struct {
	deps   Deps
	router *mux.Router
	http   *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/scenes", s.handleScenes).Methods(http.MethodGet)
	s.router.HandleFunc("/scenes/{name}/load", s.handleLoad).Methods(http.MethodPost)
	s.router.HandleFunc("/game/start", s.handleStart).Methods(http.MethodPost)
	if deps.Feed != nil {
		s.router.HandleFunc("/feed", deps.Feed.serveHTTP).Methods(http.MethodGet)
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Feed != nil {
		s.deps.Feed.Close()
	}
	return s.http.Shutdown(ctx)
}

type statusResponse struct {
	Server      string          `json:"server"`
	Phase       string          `json:"phase"`
	Round       int             `json:"round"`
	RemainingMs int64           `json:"remaining_ms"`
	Authority   string          `json:"authority"`
	Peers       []string        `json:"peers"`
	Loaded      []loadedScene   `json:"loaded"`
	Pending     []pendingRecord `json:"pending"`
}

type loadedScene struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

type pendingRecord struct {
	Scene    string     `json:"scene"`
	State    string     `json:"state"`
	Acked    int        `json:"acked"`
	Started  time.Time  `json:"started"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Phase.Current()
	resp := statusResponse{
		Server:      s.deps.Name,
		Phase:       st.Phase.String(),
		Round:       s.deps.Phase.Round(),
		RemainingMs: st.TimeRemaining(time.Now()).Milliseconds(),
		Authority:   s.deps.Peers.AuthorityID().String(),
		Peers:       []string{},
		Loaded:      []loadedScene{},
		Pending:     []pendingRecord{},
	}
	for _, id := range s.deps.Peers.Connected() {
		resp.Peers = append(resp.Peers, id.String())
	}
	for _, l := range s.deps.Scenes.LoadedScenes() {
		resp.Loaded = append(resp.Loaded, loadedScene{Name: l.Name, Mode: l.Mode.String()})
	}
	for _, p := range s.deps.Scenes.Pending() {
		rec := pendingRecord{Scene: p.Scene, State: p.State.String(), Acked: p.Acked, Started: p.Started}
		if !p.Deadline.IsZero() {
			deadline := p.Deadline
			rec.Deadline = &deadline
		}
		resp.Pending = append(resp.Pending, rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

type sceneInfo struct {
	Name         string   `json:"name"`
	Mode         string   `json:"mode"`
	RequiresSync bool     `json:"requires_sync"`
	Dependencies []string `json:"dependencies,omitempty"`
	TimeoutMs    int64    `json:"timeout_ms,omitempty"`
	Loaded       bool     `json:"loaded"`
}

func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	out := []sceneInfo{}
	for _, name := range s.deps.Catalog.Names() {
		p, _ := s.deps.Catalog.Resolve(name)
		out = append(out, sceneInfo{
			Name:         p.Name,
			Mode:         p.Mode.String(),
			RequiresSync: p.RequiresSync,
			Dependencies: p.Dependencies,
			TimeoutMs:    p.Timeout.Milliseconds(),
			Loaded:       s.deps.Scenes.IsLoaded(name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLoad asks the coordinator to load a scene as the host. Without
// ?wait it answers 202 once the request passes validation; with it, the
// response carries the final outcome.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	local := s.deps.Peers.LocalID()

	if r.URL.Query().Has("wait") {
		if err := s.deps.Scenes.RequestLoadByName(s.deps.Ctx, local, name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"scene": name, "result": "loaded"})
		return
	}

	if _, ok := s.deps.Catalog.Resolve(name); !ok {
		writeError(w, syncerr.ErrNotFound)
		return
	}
	if s.deps.Scenes.Transitioning() {
		writeError(w, syncerr.ErrConflict)
		return
	}
	go func() {
		if err := s.deps.Scenes.RequestLoadByName(s.deps.Ctx, local, name); err != nil {
			s.deps.Log.Warn("scene load over http failed", zap.String("scene", name), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"scene": name, "result": "accepted"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Phase.RequestStartGame(s.deps.Peers.LocalID()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"phase": s.deps.Phase.Current().Phase.String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := syncerr.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case syncerr.KindNotFound:
		code = http.StatusNotFound
	case syncerr.KindConflict:
		code = http.StatusConflict
	case syncerr.KindPermission:
		code = http.StatusForbidden
	case syncerr.KindTimeout:
		code = http.StatusGatewayTimeout
	case syncerr.KindLoad:
		code = http.StatusBadGateway
	case syncerr.KindInvalidArgument:
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": string(kind)})
}
