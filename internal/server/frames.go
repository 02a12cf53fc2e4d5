package server

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/replay"
)

// FrameRequest is one NDJSON line of POST /frames. TimeUs is the reception
// time in microseconds; when absent the server uptime is used.
type FrameRequest struct {
	PDU    string `json:"pdu"`
	Data   string `json:"data"`
	TimeUs *int64 `json:"timeUs,omitempty"`
}

// RefResult is the outcome of one signal or group of a frame.
type RefResult struct {
	Ref     string `json:"ref"`
	Group   bool   `json:"group,omitempty"`
	Outcome string `json:"outcome"`
	Value   string `json:"value,omitempty"`
}

// FrameResult is one NDJSON line of the POST /frames response.
type FrameResult struct {
	Line     int         `json:"line"`
	PDU      string      `json:"pdu,omitempty"`
	Results  []RefResult `json:"results,omitempty"`
	Timeouts []string    `json:"timeouts,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	defer body.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	out := NewNDJSONWriter(w)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		res := s.injectFrame(line, text)
		if err := out.WriteFrame(res); err != nil {
			s.log.Warn().Err(err).Msg("write frame result")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		_ = out.WriteFrame(FrameResult{Line: line + 1, Error: err.Error()})
	}
}

func (s *Server) injectFrame(line int, text string) FrameResult {
	res := FrameResult{Line: line}
	var req FrameRequest
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		res.Error = fmt.Sprintf("invalid json: %v", err)
		return res
	}
	res.PDU = req.PDU
	cfg := s.db.Config
	id, ok := cfg.LookupPDU(req.PDU)
	if !ok {
		res.Error = fmt.Sprintf("%v: %q", replay.ErrUnknownPDU, req.PDU)
		return res
	}
	data, err := hex.DecodeString(strings.TrimSpace(req.Data))
	if err != nil {
		res.Error = fmt.Sprintf("invalid data: %v", err)
		return res
	}
	at := time.Since(s.started)
	if req.TimeUs != nil {
		at = time.Duration(*req.TimeUs) * time.Microsecond
	}
	began := time.Now()
	fed, err := s.session.Feed(id, data, at)
	for _, ref := range fed.Timeouts {
		res.Timeouts = append(res.Timeouts, cfg.RefName(ref))
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	s.collector.Frame(req.PDU, time.Since(began))
	p := s.session.Pipeline()
	for _, r := range fed.Results {
		rr := RefResult{Ref: cfg.RefName(r.Ref), Group: r.Ref.Group, Outcome: r.Outcome.String()}
		if r.Outcome == pipeline.Committed {
			rr.Value = replay.Committed(p, r.Ref)
		}
		res.Results = append(res.Results, rr)
	}
	return res
}
