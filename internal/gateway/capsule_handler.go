package gateway

import (
	"net/http"
	"os"
	"time"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/gwerr"
)

// handleCapsuleFile implements GET /capsules/{hash}/{file}: serves
// capsule.json, fs.code.zip, or one of the manifest's declared fs.<id>.zip
// mount layers. Any other filename is rejected with 400 regardless of
// whether it happens to exist on disk (spec §8 invariant 5).
func (s *Server) handleCapsuleFile(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	file := r.PathValue("file")

	loaded, err := s.cache.Load(hash)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	if !capsule.AllowedFile(loaded.Manifest, file) {
		writeJSONError(w, http.StatusBadRequest, gwerr.New(gwerr.Validation, "capsule: file %q not part of this capsule", file))
		return
	}

	path := s.cache.LayerPath(hash, file)
	f, err := os.Open(path)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, gwerr.Wrap(gwerr.Internal, err))
		return
	}
	defer f.Close()

	if file == capsule.ManifestFile {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/zip")
	}
	modTime := time.Now()
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, file, modTime, f)
}
