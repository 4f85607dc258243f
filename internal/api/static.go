package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// staticHandler serves files from dir and falls back to dir/index.html for
// unknown GET paths so client-side routes resolve.
func staticHandler(dir string) http.Handler {
	if dir == "" {
		dir = "dist"
	}
	root := http.Dir(dir)
	files := http.FileServer(root)
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if f, err := root.Open(path.Clean("/" + r.URL.Path)); err == nil {
			info, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}
		if _, err := os.Stat(index); err != nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		http.ServeFile(w, r, index)
	})
}
