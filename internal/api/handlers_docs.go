package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/logger"
	"github.com/dgallion1/docrank/internal/parser"
)

// handleListDocuments lists the supported documents instructions can reference.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.docDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}

	docs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !parser.IsSupportedExtension(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docs = append(docs, map[string]any{
			"filename": e.Name(),
			"size":     info.Size(),
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i]["filename"].(string) < docs[j]["filename"].(string)
	})

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleUploadDocument stores a multipart file in the document directory so
// later instructions can reference it by name.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	if err := os.MkdirAll(s.docDir, 0o755); err != nil {
		jsonError(w, "failed to create document directory", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(filepath.Join(s.docDir, filename), data, 0o644); err != nil {
		logger.FromContext(r.Context()).Error("store document failed", zap.String("filename", filename), zap.Error(err))
		jsonError(w, "failed to store document", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("document stored", zap.String("filename", filename), zap.Int("bytes", len(data)))
	writeJSON(w, http.StatusCreated, map[string]any{
		"filename": filename,
		"size":     len(data),
	})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
