package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"example.com/sigrx/internal/capture"
	"example.com/sigrx/internal/sigdb"
)

const doc = `
name: body
pdus:
  - name: Body
    length: 2
    signals:
      - name: Door
        type: u8
        bitPosition: 0
        bitLength: 8
        filter:
          algorithm: masked_new_differs_masked_old
      - name: L1
        type: u8
        bitPosition: 8
        bitLength: 4
      - name: L2
        type: u8
        bitPosition: 12
        bitLength: 4
    groups:
      - name: Lamps
        members: [L1, L2]
`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := sigdb.Parse([]byte(doc), sigdb.FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := NewServer(Options{Database: db, StorageDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestNewServerRequiresDatabase(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Fatalf("server without database accepted")
	}
}

func TestInjectFramesAndRead(t *testing.T) {
	_, srv := newTestServer(t)

	body := strings.Join([]string{
		`{"pdu":"Body","data":"0512","timeUs":0}`,
		`{"pdu":"Body","data":"0512","timeUs":10}`,
		``,
		`{"pdu":"Nope","data":""}`,
		`not json`,
	}, "\n")
	resp, err := http.Post(srv.URL+"/frames", "application/x-ndjson", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	var results []FrameResult
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var fr FrameResult
		if err := json.Unmarshal(scanner.Bytes(), &fr); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		results = append(results, fr)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results: %+v", len(results), results)
	}
	first := results[0]
	if len(first.Results) != 2 || first.Results[0].Ref != "Door" || first.Results[0].Outcome != "committed" || first.Results[0].Value != "5" {
		t.Fatalf("first frame = %+v", first)
	}
	if g := first.Results[1]; !g.Group || g.Ref != "Lamps" || g.Value != "2,1" {
		t.Fatalf("group result = %+v", g)
	}
	if results[1].Results[0].Outcome != "discarded_filtered" {
		t.Fatalf("second frame = %+v", results[1])
	}
	if results[2].Line != 4 || results[2].Error == "" {
		t.Fatalf("unknown pdu = %+v", results[2])
	}
	if results[3].Error == "" {
		t.Fatalf("bad json = %+v", results[3])
	}

	var sig SignalView
	if code := getJSON(t, srv.URL+"/signals/Door", &sig); code != http.StatusOK || sig.Value != "5" || sig.PDU != "Body" {
		t.Fatalf("GET /signals/Door = %d %+v", code, sig)
	}
	if code := getJSON(t, srv.URL+"/signals/Nope", nil); code != http.StatusNotFound {
		t.Fatalf("unknown signal status %d", code)
	}
	var grp GroupView
	if code := getJSON(t, srv.URL+"/groups/Lamps", &grp); code != http.StatusOK || len(grp.Members) != 2 || grp.Members[1].Value != "1" {
		t.Fatalf("GET /groups/Lamps = %d %+v", code, grp)
	}
	var all []SignalView
	if code := getJSON(t, srv.URL+"/signals", &all); code != http.StatusOK || len(all) != 3 || all[1].Group != "Lamps" {
		t.Fatalf("GET /signals = %d %+v", code, all)
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	text, _ := io.ReadAll(mresp.Body)
	mresp.Body.Close()
	if !strings.Contains(string(text), `sigrx_pipeline_outcomes_total{kind="group",outcome="committed"} 2`) {
		t.Fatalf("metrics missing group outcomes:\n%s", text)
	}

	rresp, err := http.Post(srv.URL+"/reset", "", nil)
	if err != nil {
		t.Fatalf("POST /reset: %v", err)
	}
	rresp.Body.Close()
	if rresp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status %d", rresp.StatusCode)
	}
	if getJSON(t, srv.URL+"/signals/Door", &sig); sig.Value != "0" {
		t.Fatalf("after reset = %+v", sig)
	}
}

func TestReplayUpload(t *testing.T) {
	_, srv := newTestServer(t)

	var frames bytes.Buffer
	w := capture.NewWriter(&frames)
	for _, payload := range [][]byte{{0x01, 0x21}, {0x02, 0x21}} {
		if err := w.Write(capture.Record{PDU: 0, Payload: payload}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("capture", "frames.sigcap")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(frames.Bytes())
	mw.Close()

	resp, err := http.Post(srv.URL+"/replay", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /replay: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, msg)
	}
	var out struct {
		Run struct {
			ID       string         `json:"id"`
			Records  int            `json:"records"`
			Capture  string         `json:"capture"`
			Outcomes map[string]int `json:"outcomes"`
		} `json:"run"`
		Artifacts []ArtifactRef `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Run.Records != 2 || out.Run.Capture != "frames.sigcap" || out.Run.Outcomes["committed"] != 4 {
		t.Fatalf("run = %+v", out.Run)
	}
	if len(out.Artifacts) != 3 {
		t.Fatalf("artifacts = %+v", out.Artifacts)
	}

	dl, err := http.Get(srv.URL + "/artifacts/" + out.Artifacts[0].ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(out.Run.ID)) {
		t.Fatalf("download status %d body %s", dl.StatusCode, data)
	}
	var listed []ArtifactRef
	if code := getJSON(t, srv.URL+"/artifacts", &listed); code != http.StatusOK || len(listed) != 3 {
		t.Fatalf("GET /artifacts = %d %+v", code, listed)
	}
	if code := getJSON(t, srv.URL+"/artifacts/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing artifact status %d", code)
	}
}
