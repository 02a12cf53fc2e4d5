// Package server exposes a signal database over HTTP: committed values can be
// read, frames injected and captures replayed into reports.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/metrics"
	"example.com/sigrx/internal/replay"
	"example.com/sigrx/internal/sigdb"
	"example.com/sigrx/internal/signal"
)

// Server owns the live session fed by POST /frames and the artifacts
// produced by replays.
type Server struct {
	db         *sigdb.Database
	session    *replay.Session
	collector  *metrics.Collector
	log        *zerolog.Logger
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	maxBody    int64
	started    time.Time
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "sigd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = common.Logger()
	}
	collector := opts.Collector
	if collector == nil {
		collector = metrics.New()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	session, err := replay.NewSession(opts.Database, replay.SessionOptions{
		Notifier: collector.Notifier(opts.Notifier),
		Observer: collector,
		Logger:   log,
	})
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	return &Server{
		db:         opts.Database,
		session:    session,
		collector:  collector,
		log:        log,
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		maxBody:    maxBody,
		started:    time.Now(),
	}, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          randomID(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	defer s.artifacts.mu.RUnlock()
	art, ok := s.artifacts.entries[id]
	return art, ok
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

// SignalView is the API representation of a signal and its committed value.
type SignalView struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	PDU   string `json:"pdu"`
	Group string `json:"group,omitempty"`
	Value string `json:"value"`
}

// GroupView is the API representation of a group snapshot.
type GroupView struct {
	Name        string       `json:"name"`
	PDU         string       `json:"pdu"`
	ArrayAccess bool         `json:"arrayAccess"`
	Members     []SignalView `json:"members"`
}

func (s *Server) signalView(d *signal.Descriptor, v signal.Value) SignalView {
	cfg := s.db.Config
	view := SignalView{Name: d.Name, Type: d.Type.String(), Value: v.String()}
	if pdu, err := cfg.PDU(d.PDU); err == nil {
		view.PDU = pdu.Name
	}
	if d.Group != nil {
		view.Group = cfg.RefName(signal.GroupRef(*d.Group))
	}
	return view
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	cfg := s.db.Config
	p := s.session.Pipeline()
	out := make([]SignalView, 0, cfg.SignalCount())
	for i := 0; i < cfg.SignalCount(); i++ {
		d, err := cfg.Signal(signal.SignalID(i))
		if err != nil {
			continue
		}
		v, err := p.ReadLongTerm(d.ID)
		if err != nil {
			http.Error(w, fmt.Sprintf("read %s: %v", d.Name, err), http.StatusInternalServerError)
			return
		}
		out = append(out, s.signalView(d, v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	cfg := s.db.Config
	id, ok := cfg.LookupSignal(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	d, err := cfg.Signal(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	v, err := s.session.Pipeline().ReadLongTerm(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("read %s: %v", d.Name, err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.signalView(d, v))
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	cfg := s.db.Config
	id, ok := cfg.LookupGroup(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	g, err := cfg.Group(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	vals, err := s.session.Pipeline().ReadGroup(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("read %s: %v", g.Name, err), http.StatusInternalServerError)
		return
	}
	view := GroupView{Name: g.Name, ArrayAccess: g.ArrayAccess, Members: make([]SignalView, 0, len(vals))}
	if pdu, err := cfg.PDU(g.PDU); err == nil {
		view.PDU = pdu.Name
	}
	for i, m := range g.Members {
		d, err := cfg.Signal(m)
		if err != nil || i >= len(vals) {
			continue
		}
		view.Members = append(view.Members, s.signalView(d, vals[i]))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset()
	s.log.Info().Msg("buffers reset to init values")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": s.db.Name,
		"digest":   s.db.Digest,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	art, ok := s.getArtifact(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	http.ServeContent(w, r, art.Name, info.ModTime(), f)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".toml":
		return "application/toml"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
