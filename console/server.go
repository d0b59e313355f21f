// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package console implements the tempstore web UI: browse projects,
// versions, and files; upload, download, star, and unstar.
package console

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net"
	"net/http"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marcv81/tempstore/blobstore"
	"github.com/marcv81/tempstore/engine"
	"github.com/marcv81/tempstore/meta"
	"github.com/marcv81/tempstore/validate"
)

var (
	// Error is the default console error class.
	Error = errs.Class("console")

	mon = monkit.Package()
)

//go:embed templates/*.html
var templateFiles embed.FS

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before spilling to a temp file.
const maxUploadMemory = 32 << 20

// Config contains configuration for the console server.
type Config struct {
	Address string
}

// Server serves the web UI over the given listener.
type Server struct {
	log *zap.Logger

	config    Config
	engine    *engine.Engine
	listener  net.Listener
	templates *template.Template

	server http.Server
}

// NewServer creates a new console server.
func NewServer(log *zap.Logger, config Config, engine *engine.Engine, listener net.Listener) *Server {
	server := Server{
		log:       log,
		config:    config,
		engine:    engine,
		listener:  listener,
		templates: template.Must(template.ParseFS(templateFiles, "templates/*.html")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.handleIndex)
	mux.HandleFunc("GET /project/{project}", server.handleProject)
	mux.HandleFunc("GET /version/{project}/{version}", server.handleVersion)
	mux.HandleFunc("GET /download/{project}/{version}/{file}", server.handleDownload)
	mux.HandleFunc("GET /admin/star/{project}/{version}", server.handleStar)
	mux.HandleFunc("GET /admin/unstar/{project}/{version}", server.handleUnstar)
	mux.HandleFunc("POST /upload", server.handleUpload)

	server.server = http.Server{
		Handler: mux,
	}

	return &server
}

// Run serves requests until ctx is canceled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return server.server.Shutdown(context.Background())
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return group.Wait()
}

// Close closes the server and the underlying listener.
func (server *Server) Close() error {
	return server.server.Close()
}

func (server *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	projects, err := server.engine.ListProjects(ctx)
	if err != nil {
		server.serveError(w, err)
		return
	}
	server.render(w, "index.html", map[string]interface{}{
		"Projects": projects,
	})
}

func (server *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	project := r.PathValue("project")
	versions, err := server.engine.ListVersions(ctx, project)
	if err != nil {
		server.serveError(w, err)
		return
	}
	server.render(w, "project.html", map[string]interface{}{
		"Project":  project,
		"Versions": versions,
	})
}

func (server *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	project := r.PathValue("project")
	version := r.PathValue("version")
	files, err := server.engine.ListFiles(ctx, project, version)
	if err != nil {
		server.serveError(w, err)
		return
	}
	server.render(w, "version.html", map[string]interface{}{
		"Project": project,
		"Version": version,
		"Files":   files,
	})
}

func (server *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	rc, err := server.engine.Download(ctx,
		r.PathValue("project"), r.PathValue("version"), r.PathValue("file"))
	if err != nil {
		server.serveError(w, err)
		return
	}
	defer func() {
		if err := rc.Close(); err != nil {
			server.log.Warn("unable to close blob", zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		// headers are gone already, all we can do is log
		server.log.Warn("download interrupted", zap.Error(err))
	}
}

func (server *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	server.setStar(w, r, "true")
}

func (server *Server) handleUnstar(w http.ResponseWriter, r *http.Request) {
	server.setStar(w, r, "false")
}

// setStar re-enforces the strict star contract at the boundary: the
// state is parsed from its string spelling, never coerced.
func (server *Server) setStar(w http.ResponseWriter, r *http.Request, state string) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	star, err := validate.StarState(state)
	if err != nil {
		server.serveError(w, err)
		return
	}

	project := r.PathValue("project")
	version := r.PathValue("version")
	if star {
		err = server.engine.StarVersion(ctx, project, version)
	} else {
		err = server.engine.UnstarVersion(ctx, project, version)
	}
	if err != nil {
		server.serveError(w, err)
		return
	}
	http.Redirect(w, r, "/project/"+project, http.StatusFound)
}

func (server *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		server.serveError(w, Error.Wrap(err))
		return
	}
	project := r.FormValue("project")
	version := r.FormValue("version")
	upload, header, err := r.FormFile("upload")
	if err != nil {
		server.serveError(w, Error.Wrap(err))
		return
	}
	defer func() {
		if err := upload.Close(); err != nil {
			server.log.Warn("unable to close upload", zap.Error(err))
		}
	}()

	if err := server.engine.Upload(ctx, project, version, header.Filename, upload, 0); err != nil {
		server.serveError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (server *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := server.templates.ExecuteTemplate(w, name, data); err != nil {
		server.log.Error("unable to render template", zap.String("template", name), zap.Error(err))
	}
}

// serveError maps not-found to 404 and everything else to 500. The
// error text stays server-side; substrate messages never reach clients.
func (server *Server) serveError(w http.ResponseWriter, err error) {
	if meta.ErrNotFound.Has(err) || blobstore.ErrNotFound.Has(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	server.log.Error("request failed", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
