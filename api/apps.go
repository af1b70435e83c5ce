package api

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/adbtoolkit/agent/server"
)

// AppsHandler implements the installed-package domain.
type AppsHandler struct {
	Provider AppsProvider
}

// Handle implements server.Handler.
func (h *AppsHandler) Handle(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "list":
		h.list(w, r)
	case "info":
		h.info(w, r, param)
	case "apk":
		h.apk(w, r, param)
	case "data-paths":
		h.dataPaths(w, r, param)
	case "install":
		h.install(w, r)
	case "uninstall":
		h.uninstall(w, r, param)
	default:
		server.WriteError(w, server.NotFound("unknown_endpoint"))
	}
}

// pkgParam accepts the package either as the positional parameter or the
// `package` query parameter.
func pkgParam(r *http.Request, param string) string {
	if param != "" {
		return param
	}
	return r.URL.Query().Get("package")
}

func (h *AppsHandler) list(w http.ResponseWriter, r *http.Request) {
	includeSystem := r.URL.Query().Get("system") == "true"
	apps, err := h.Provider.List(includeSystem)
	if err != nil {
		server.WriteError(w, mapProviderError(err))
		return
	}
	server.WriteOK(w, map[string]any{"count": len(apps), "apps": apps})
}

func (h *AppsHandler) info(w http.ResponseWriter, r *http.Request, param string) {
	pkg := pkgParam(r, param)
	if pkg == "" {
		server.WriteError(w, server.BadRequest("missing package"))
		return
	}
	info, err := h.Provider.Info(pkg)
	if err != nil {
		server.WriteError(w, mapAppsError(err))
		return
	}
	server.WriteOK(w, map[string]any{"app": info})
}

func (h *AppsHandler) apk(w http.ResponseWriter, r *http.Request, param string) {
	pkg := pkgParam(r, param)
	if pkg == "" {
		server.WriteError(w, server.BadRequest("missing package"))
		return
	}
	rc, size, err := h.Provider.OpenAPK(pkg)
	if err != nil {
		server.WriteError(w, mapAppsError(err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", pkg+".apk"))
	io.Copy(w, rc)
}

func (h *AppsHandler) dataPaths(w http.ResponseWriter, r *http.Request, param string) {
	pkg := pkgParam(r, param)
	if pkg == "" {
		server.WriteError(w, server.BadRequest("missing package"))
		return
	}
	dirs, err := h.Provider.DataDirs(pkg)
	if err != nil {
		server.WriteError(w, mapAppsError(err))
		return
	}
	server.WriteOK(w, map[string]any{"package": pkg, "dirs": dirs})
}

// install spools the request body to a temp file and hands the path to
// the provider's installer.
func (h *AppsHandler) install(w http.ResponseWriter, r *http.Request) {
	tmp, err := os.CreateTemp("", "agent-install-*.apk")
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		server.WriteError(w, server.Internal(err))
		return
	}
	if size == 0 {
		server.WriteError(w, server.BadRequest("empty install body"))
		return
	}
	if err := h.Provider.Install(tmp.Name()); err != nil {
		server.WriteError(w, mapAppsError(err))
		return
	}
	server.WriteOK(w, map[string]any{"installed": true, "size": size})
}

func (h *AppsHandler) uninstall(w http.ResponseWriter, r *http.Request, param string) {
	pkg := pkgParam(r, param)
	if pkg == "" {
		server.WriteError(w, server.BadRequest("missing package"))
		return
	}
	if err := h.Provider.Uninstall(pkg); err != nil {
		server.WriteError(w, mapAppsError(err))
		return
	}
	server.WriteOK(w, map[string]any{"package": pkg, "uninstalled": true})
}

func mapAppsError(err error) error {
	if os.IsNotExist(err) {
		return server.NotFound("unknown_package")
	}
	return mapProviderError(err)
}
