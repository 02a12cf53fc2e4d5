package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildVerify(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"run.json":         `{"id":"x"}`,
		"trace.jsonl":      "{}\n",
		"cap/frames.sigcap": "\x01\x02",
	}
	var paths []string
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		paths = append(paths, p)
	}
	m, err := Build(dir, paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	kinds := map[string]string{}
	for _, it := range m.Items {
		kinds[it.Path] = it.Type
	}
	if kinds["run.json"] != "json" || kinds["trace.jsonl"] != "trace" || kinds["cap/frames.sigcap"] != "capture" {
		t.Fatalf("kinds = %v", kinds)
	}

	out := filepath.Join(dir, FileName)
	if err := Save(m, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Verify(dir, loaded); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(`{"id":"y"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := Verify(dir, loaded); err == nil {
		t.Fatalf("tampered file verified")
	}
}

func TestBuildRejectsOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(t.TempDir(), "x.json")
	if err := os.WriteFile(other, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Build(dir, []string{other}); err == nil {
		t.Fatalf("file outside root accepted")
	}
}

func TestVerifyRejectsEscapingPath(t *testing.T) {
	m := Manifest{ShaAlgo: "sha256", Items: []Item{{Path: "../etc/passwd"}}}
	if err := Verify(t.TempDir(), m); err == nil {
		t.Fatalf("escaping path accepted")
	}
}
