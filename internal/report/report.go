// Package report renders replay runs as JSON or PDF documents.
package report

import (
	"encoding/json"
	"os"

	"example.com/sigrx/internal/replay"
)

func SaveJSON(run *replay.Run, out string) error {
	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (*replay.Run, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run replay.Run
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
