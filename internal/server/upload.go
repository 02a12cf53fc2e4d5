package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"example.com/sigrx/internal/replay"
	"example.com/sigrx/internal/report"
)

// handleReplay replays an uploaded capture (multipart field "capture") on a
// fresh session and registers the JSON and PDF reports as artifacts.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	src, fh, err := r.FormFile("capture")
	if err != nil {
		http.Error(w, fmt.Sprintf("capture file: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()
	dest, err := os.CreateTemp(s.uploadsDir, "capture-*"+filepath.Ext(fh.Filename))
	if err != nil {
		http.Error(w, fmt.Sprintf("upload temp: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
		return
	}
	dest.Close()

	tracePath, err := s.tempPath("trace-*.jsonl")
	if err != nil {
		http.Error(w, fmt.Sprintf("trace temp: %v", err), http.StatusInternalServerError)
		return
	}
	run, err := replay.File(r.Context(), s.db, dest.Name(), replay.Options{
		TracePath: tracePath,
		Collector: s.collector,
		Logger:    s.log,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("replay: %v", err), http.StatusUnprocessableEntity)
		return
	}
	run.Capture = fh.Filename

	jsonPath, err := s.tempPath("run-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("report temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveJSON(run, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write report: %v", err), http.StatusInternalServerError)
		return
	}
	pdfPath, err := s.tempPath("run-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("report pdf temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SavePDF(run, pdfPath); err != nil {
		http.Error(w, fmt.Sprintf("write report pdf: %v", err), http.StatusInternalServerError)
		return
	}

	var refs []ArtifactRef
	for _, a := range []struct{ path, name, kind string }{
		{jsonPath, run.ID + ".json", "report"},
		{pdfPath, run.ID + ".pdf", "report"},
		{tracePath, run.ID + ".jsonl", "trace"},
	} {
		art, err := s.addArtifact(a.path, a.name, guessContentType(a.name), a.kind)
		if err != nil {
			http.Error(w, fmt.Sprintf("register %s: %v", a.name, err), http.StatusInternalServerError)
			return
		}
		refs = append(refs, toRef(art))
	}
	writeJSON(w, http.StatusOK, struct {
		Run       *replay.Run   `json:"run"`
		Artifacts []ArtifactRef `json:"artifacts"`
	}{Run: run, Artifacts: refs})
}
