package daemon

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// setupPage is served when no project config exists yet.
const setupPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sparkle</title></head>
<body>
<h1>Sparkle is not configured</h1>
<p>This repository has no <code>sparkle_config</code> in its
<code>package.json</code> yet. Run <code>sparkle setup</code> in the
repository root, then reload this page.</p>
</body>
</html>
`

// fallbackPage is the minimal UI when no static directory is supplied.
const fallbackPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sparkle</title></head>
<body>
<h1>Sparkle daemon</h1>
<p>The daemon is running. Use the <code>sparkle</code> CLI or the HTTP
API under <code>/api/</code>; live changes stream from
<code>/api/events</code>.</p>
</body>
</html>
`

// serveStatic serves UI files from staticDir when set, refusing any
// path that would escape it. Without a directory it serves the built-in
// page.
func serveStatic(w http.ResponseWriter, r *http.Request, staticDir string, configured bool) {
	if !configured {
		serveHTML(w, setupPage)
		return
	}
	if staticDir == "" {
		serveHTML(w, fallbackPage)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/")
	if rel == "" {
		rel = "index.html"
	}

	// Resolve and make sure the target stays inside staticDir.
	root, err := filepath.Abs(staticDir)
	if err != nil {
		http.Error(w, "static root unavailable", http.StatusInternalServerError)
		return
	}
	target := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, target)
}

func serveHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}
