// Package router exposes a directory of static files over HTTP.
//
// The root path is rewritten to the configured index file; every other path
// is looked up relative to the root directory by a resolver.Resolver. Missing
// files, directories and paths escaping the root all answer 404 with the same
// body, read failures answer 500, and methods other than GET and HEAD answer
// 405.
package router

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/f4ah6o/siteserve-go/internal/config"
	"github.com/f4ah6o/siteserve-go/internal/resolver"
)

// allowedMethods is advertised on 405 responses.
const allowedMethods = "GET, HEAD"

// Router maps request paths to files. It is immutable after New.
type Router struct {
	indexFile string
	files     *resolver.Resolver
	mux       *chi.Mux
}

// New builds the HTTP handler for cfg. cfg should already be validated; res
// must be bound to cfg.Root.
func New(cfg config.Config, res *resolver.Resolver) *Router {
	rt := &Router{
		indexFile: cfg.IndexFile,
		files:     res,
		mux:       chi.NewRouter(),
	}

	if cfg.Debug {
		rt.mux.Use(middleware.Logger)
	}
	rt.mux.Use(middleware.Recoverer)
	rt.mux.Use(middleware.GetHead)

	rt.mux.Get("/", rt.serveIndex)
	rt.mux.Get("/*", rt.serveFile)
	rt.mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendStatus(w, http.StatusNotFound)
	})
	rt.mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allowedMethods)
		sendStatus(w, http.StatusMethodNotAllowed)
	})
	return rt
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// Target returns the file path, relative to the root, that serves
// requestPath. The empty path and "/" map to the index file.
func (rt *Router) Target(requestPath string) string {
	p := strings.TrimPrefix(requestPath, "/")
	if p == "" {
		return rt.indexFile
	}
	return p
}

func (rt *Router) serveIndex(w http.ResponseWriter, r *http.Request) {
	rt.serve(w, rt.Target(""))
}

// chi matches on RawPath when it is set, so the wildcard param may still be
// escaped; the decoded URL path is used instead.
func (rt *Router) serveFile(w http.ResponseWriter, r *http.Request) {
	rt.serve(w, rt.Target(r.URL.Path))
}

func (rt *Router) serve(w http.ResponseWriter, target string) {
	f, err := rt.files.Resolve(target)
	if err != nil {
		var readErr *resolver.ReadError
		switch {
		case resolver.IsNotFound(err):
			sendStatus(w, http.StatusNotFound)
		case errors.As(err, &readErr):
			log.Printf("Failed to read %s: %v", target, readErr.Err)
			sendStatus(w, http.StatusInternalServerError)
		default:
			log.Printf("Failed to resolve %s: %v", target, err)
			sendStatus(w, http.StatusInternalServerError)
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", f.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(f.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(f.Body)
}

// sendStatus writes a generic body that reveals nothing about the cause.
func sendStatus(w http.ResponseWriter, code int) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintln(w, code, http.StatusText(code))
}
