package api

import (
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/sqlagent/internal/agent"
	"github.com/nidhogg/sqlagent/internal/command"
	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/provider"
	"github.com/nidhogg/sqlagent/internal/user"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine   *agent.Engine
	commands *command.Registry
	store    *memory.Store
	router   *provider.Router
	resolver user.Resolver
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	engine *agent.Engine,
	commands *command.Registry,
	store *memory.Store,
	router *provider.Router,
	resolver user.Resolver,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:   engine,
		commands: commands,
		store:    store,
		router:   router,
		resolver: resolver,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Group(func(r chi.Router) {
			r.Use(user.Middleware(h.resolver, h.logger))

			r.Get("/me", h.me)
			r.Post("/chat", h.chat)
			r.Get("/tools", h.listTools)
			r.Get("/providers", h.listProviders)

			// Agent memory routes
			r.Get("/memory", h.listMemory)
			r.Get("/memory/search", h.searchMemory)
			r.Get("/memory/{id}", h.getMemory)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	writeJSON(w, http.StatusOK, u)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if h.commands != nil && command.IsCommand(req.Message) {
		res, err := h.commands.Dispatch(r.Context(), req.Message, &command.CommandContext{User: u})
		if err != nil {
			h.logger.Error("command failed", zap.String("user", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	result, err := h.engine.Execute(r.Context(), u, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrEmptyMessage) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("chat failed", zap.String("user", u.ID), zap.Error(err))
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	type brief struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	defs := h.engine.Tools().Definitions(u)
	list := make([]brief, len(defs))
	for i, d := range defs {
		list[i] = brief{Name: d.Function.Name, Description: d.Function.Description}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	type brief struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Default bool   `json:"default"`
	}
	def := h.router.DefaultID()
	providers := h.router.ListProviders()
	list := make([]brief, len(providers))
	for i, p := range providers {
		list[i] = brief{ID: p.ID(), Name: p.Name(), Default: p.ID() == def}
	}
	writeJSON(w, http.StatusOK, list)
}

// memoryPage is one window of a listing. More reports whether items exist
// past Offset+Count.
type memoryPage struct {
	Items  []memory.Item `json:"items"`
	Count  int           `json:"count"`
	Offset int           `json:"offset"`
	More   bool          `json:"more"`
}

func (h *Handler) listMemory(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	if !u.IsAdmin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	kind, pg, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, collect(h.store.ListAll(kind), pg))
}

func (h *Handler) searchMemory(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	kind, pg, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, collect(h.store.Search(u.ID, q, kind), pg))
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	u, _ := user.FromContext(r.Context())
	it, err := h.store.Get(chi.URLParam(r, "id"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if it.Scope != u.ID && !u.IsAdmin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "item belongs to another user"})
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type window struct {
	offset, limit int
}

// pageParams reads the kind, offset and limit query parameters.
func pageParams(r *http.Request) (memory.Kind, window, error) {
	q := r.URL.Query()
	kind, err := memory.ParseKind(q.Get("kind"))
	if err != nil {
		return "", window{}, err
	}
	pg := window{limit: defaultPageSize}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return "", window{}, errors.New("limit must be a positive integer")
		}
		pg.limit = min(n, maxPageSize)
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return "", window{}, errors.New("offset must be a non-negative integer")
		}
		pg.offset = n
	}
	return kind, pg, nil
}

func collect(seq iter.Seq[memory.Item], pg window) memoryPage {
	page := memoryPage{Items: []memory.Item{}, Offset: pg.offset}
	skipped := 0
	for it := range seq {
		if skipped < pg.offset {
			skipped++
			continue
		}
		if len(page.Items) >= pg.limit {
			page.More = true
			break
		}
		page.Items = append(page.Items, it)
	}
	page.Count = len(page.Items)
	return page
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
