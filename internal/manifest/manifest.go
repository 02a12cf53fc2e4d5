// Package manifest lists the files a replay produced together with their
// SHA-256 digests so an output directory can be checked later.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/sigrx/internal/common"
)

// FileName is the manifest written next to the files it lists.
const FileName = "MANIFEST.json"

// SignatureFileName holds the detached signature of FileName.
const SignatureFileName = "SIGNATURE.jws"

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	Database  string     `json:"database,omitempty"`
	Digest    string     `json:"digest,omitempty"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

// Build hashes paths, which must lie under root; items are stored relative
// to root with forward slashes.
func Build(root string, paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return m, err
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return m, fmt.Errorf("manifest: %s is outside %s", p, root)
		}
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: filepath.ToSlash(rel), Size: sz, Sha256: hex, Type: kindOf(p)})
	}
	return m, nil
}

func kindOf(path string) string {
	switch {
	case hasExt(path, ".sigcap"):
		return "capture"
	case hasExt(path, ".yaml", ".yml", ".toml"):
		return "database"
	case hasExt(path, ".jsonl", ".ndjson"):
		return "trace"
	case hasExt(path, ".json"):
		return "json"
	case hasExt(path, ".pdf"):
		return "pdf"
	}
	return "other"
}

func hasExt(path string, exts ...string) bool {
	for _, e := range exts {
		if strings.EqualFold(filepath.Ext(path), e) {
			return true
		}
	}
	return false
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Verify re-hashes every item of m under root.
func Verify(root string, m Manifest) error {
	if m.ShaAlgo != "sha256" {
		return fmt.Errorf("unsupported manifest algorithm %q", m.ShaAlgo)
	}
	if len(m.Items) == 0 {
		return errors.New("manifest has no items")
	}
	for _, item := range m.Items {
		if strings.TrimSpace(item.Path) == "" {
			return errors.New("manifest item missing path")
		}
		cleaned := filepath.Clean(filepath.FromSlash(item.Path))
		if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return fmt.Errorf("manifest item %q escapes root", item.Path)
		}
		if filepath.IsAbs(cleaned) {
			return fmt.Errorf("manifest item %q is absolute", item.Path)
		}
		path := filepath.Join(root, cleaned)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("manifest item %q: %w", item.Path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("manifest item %q is a directory", item.Path)
		}
		hash, size, err := common.Sha256OfFile(path)
		if err != nil {
			return fmt.Errorf("hash %q: %w", item.Path, err)
		}
		if hash != item.Sha256 {
			return fmt.Errorf("manifest mismatch for %s", item.Path)
		}
		if size != item.Size {
			return fmt.Errorf("manifest size mismatch for %s", item.Path)
		}
	}
	return nil
}
