package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KobraKid/bestiary-sub000/pkg/store"
	"github.com/KobraKid/bestiary-sub000/pkg/templating"
)

// Server wires the template manager and the store to the HTTP API.
type Server struct {
	cm     *ConfigManager
	logger *slog.Logger
	store  store.Store
	tm     *templating.Manager
	images fs.FS
	router chi.Router
}

// NewServer builds the template manager on top of st and registers every route.
func NewServer(cm *ConfigManager, logger *slog.Logger, st store.Store) (*Server, error) {
	config := cm.Get()

	tm, err := templating.NewManager(logger, st, config.Templates, config.Server.PackagesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	s := &Server{
		cm:     cm,
		logger: logger,
		store:  st,
		tm:     tm,
		router: chi.NewRouter(),
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealthCheck)
		r.Get("/render/{package}/{group}/{id}", s.handleRender)
		r.Get("/stream/{package}/{group}", s.handleStream)
		r.Post("/cache/clear", s.handleClearCache)
		r.Get("/server/version", s.handleVersion)
		r.Get("/server/config", s.handleGetConfig)
		r.Put("/server/config/templates", s.handlePutTemplateConfig)
	})

	// Images referenced by {{image}} live in each package's image directory.
	if base := strings.TrimSuffix(config.Templates.ImageBase, "/"); strings.HasPrefix(base, "/") {
		s.images = os.DirFS(filepath.Clean(config.Server.PackagesDir))
		s.router.Get(base+"/{package}/*", s.handleImage)
	}

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Manager exposes the template manager, mostly for the file watcher.
func (s *Server) Manager() *templating.Manager {
	return s.tm
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRender renders a single entry. A missing entry is reported as 404
// rather than an empty document.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "package")
	group := chi.URLParam(r, "group")
	id := chi.URLParam(r, "id")
	view := templating.ParseView(r.URL.Query().Get("view"))
	lang := r.URL.Query().Get("lang")

	e, err := s.store.FindEntry(r.Context(), pkg, group, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Entry not found")
			return
		}
		s.logger.Error("Failed to load entry", "package", pkg, "group", group, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load entry")
		return
	}

	out := s.tm.RenderEntry(r.Context(), e, view, lang)
	respondWithJSON(w, http.StatusOK, out)
}

// handleImage serves a file from the image directory named by the package
// manifest. Templates, scripts and manifests are never exposed.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "package")
	name := path.Clean(chi.URLParam(r, "*"))
	full := path.Join(pkg, name)
	if !fs.ValidPath(name) || !fs.ValidPath(full) {
		http.NotFound(w, r)
		return
	}
	dir := path.Clean(s.tm.Manifest(pkg).ImageDir)
	if dir == "." || !fs.ValidPath(dir) || !strings.HasPrefix(name, dir+"/") {
		http.NotFound(w, r)
		return
	}
	if info, err := fs.Stat(s.images, full); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFileFS(w, r, s.images, full)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if pkg := r.URL.Query().Get("package"); pkg != "" {
		s.tm.InvalidatePackage(pkg)
		s.logger.Info("Package caches cleared via API", "package", pkg)
	} else {
		s.tm.ClearCache()
		s.logger.Info("Template caches cleared via API")
	}
	w.WriteHeader(http.StatusNoContent)
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, VersionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.cm.Get())
}

func (s *Server) handlePutTemplateConfig(w http.ResponseWriter, r *http.Request) {
	var tc templating.TemplateConfig
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if err := s.cm.UpdateTemplates(&tc); err != nil {
		s.logger.Error("Failed to update template config", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("Template configuration updated via API", "live_reload", tc.LiveReload, "engine", tc.EvalEngine)
	respondWithJSON(w, http.StatusOK, tc)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
