package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ssd-technologies/takedat/internal/directory"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/ratelimit"
	"github.com/ssd-technologies/takedat/internal/relay"
)

// Options tune the HTTP surface.
type Options struct {
	AllowedOrigins []string
	APIRate        int // requests per IP per minute, 0 disables
	StaticDir      string
	ChunkSize      int // advertised by /api/health
}

// Server is the HTTP server for the directory API and the relay endpoint.
type Server struct {
	dir     *directory.Service
	hub     *relay.Hub
	limiter *ratelimit.Keyed
	router  chi.Router
	opts    Options
}

// New creates a new Server with all routes registered.
func New(dir *directory.Service, hub *relay.Hub, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		dir:     dir,
		hub:     hub,
		limiter: ratelimit.NewKeyed(opts.APIRate, time.Minute),
		router:  chi.NewRouter(),
		opts:    opts,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ownerTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/health", s.handleHealth)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{code}", s.handleGetSession)
		r.Delete("/sessions/{code}", s.handleDeleteSession)
	})

	r.Get("/ws/{code}", s.handleWebSocket)

	if s.opts.StaticDir != "" {
		r.Get("/*", spaHandler(s.opts.StaticDir))
	}
}

// spaHandler serves the browser client from dir. Unknown paths outside
// /assets/ get index.html so client-side routes resolve.
func spaHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := http.Dir(dir).Open(r.URL.Path)
		if err == nil {
			st, statErr := f.Stat()
			f.Close()
			if statErr == nil && !st.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}
		if strings.HasPrefix(r.URL.Path, "/assets/") {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}

// handleHealth reports liveness and the number of sessions with a party on
// the relay.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"service":  "takedat",
		"sessions": s.hub.Tracker().Sessions(),
	}
	if s.opts.ChunkSize > 0 {
		body["chunkSize"] = s.opts.ChunkSize
	}
	writeJSON(w, http.StatusOK, body)
}

// CheckOrigin returns a websocket origin check for the given CORS origins.
// "*" allows any origin. Requests without an Origin header are not from a
// browser and are always allowed.
func CheckOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a {code, message} error body.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.APIError{Code: code, Message: msg})
}
