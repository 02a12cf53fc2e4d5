package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/sigrx/internal/bitfield"
	"example.com/sigrx/internal/capture"
	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/crypto"
	"example.com/sigrx/internal/manifest"
	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/replay"
	"example.com/sigrx/internal/report"
	"example.com/sigrx/internal/sigdb"
	sig "example.com/sigrx/internal/signal"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	if _, err := common.SetupLogging(common.LogConfig{Level: "warn"}); err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "check":
		err = checkCmd(os.Args[2:])
	case "decode":
		err = decodeCmd(os.Args[2:])
	case "encode":
		err = encodeCmd(os.Args[2:])
	case "scan":
		err = scanCmd(os.Args[2:])
	case "replay":
		err = replayCmd(os.Args[2:])
	case "batch":
		err = batchCmd(os.Args[2:])
	case "report":
		err = reportCmd(os.Args[2:])
	case "verify":
		err = verifyCmd(os.Args[2:])
	default:
		usage()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`sigctl %s (built %s) <command> [options]

Commands:
  check   --db <signals.yaml|toml>
  decode  --db <file> --pdu <name> --data <hex>
  encode  --db <file> --pdu <name> --set <Signal=value>[,<Signal=value>...]
  scan    --in <capture>
  replay  --db <file> --in <capture> [--out <run.json>] [--pdf <run.pdf>] [--trace <trace.jsonl>] [--metrics] [--progress]
  batch   --db <file> --in <dir> --out-dir <dir> [--sign-key <key.pem>]
  report  --run <run.json> --pdf <run.pdf>
  verify  --dir <out-dir> [--pub <key.pem|cert.pem>]
`, version, buildDate)
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("required: --%s", name)
	}
	return nil
}

func checkCmd(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	dbPath := fs.String("db", "", "signal database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("db", *dbPath); err != nil {
		return err
	}
	db, err := sigdb.EnsureLoaded(*dbPath)
	if err != nil {
		return err
	}
	cfg := db.Config
	fmt.Fprintf(stdout, "database %s: %d pdus, %d signals, %d groups, %d supervised\n",
		db.Name, cfg.PDUCount(), cfg.SignalCount(), cfg.GroupCount(), len(db.Timeouts))
	fmt.Fprintf(stdout, "sha256 %s\n", db.Digest)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PDU\tSIGNAL\tTYPE\tBITS\tORDER\tGROUP\tFILTER")
	for i := 0; i < cfg.SignalCount(); i++ {
		d, _ := cfg.Signal(sig.SignalID(i))
		pdu, _ := cfg.PDU(d.PDU)
		group, filter := "-", "-"
		if d.Group != nil {
			group = cfg.RefName(sig.GroupRef(*d.Group))
		}
		if d.Filter != nil {
			filter = d.Filter.Algorithm.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d+%d\t%s\t%s\t%s\n",
			pdu.Name, d.Name, d.Type, d.BitPosition, d.BitLength, d.ByteOrder, group, filter)
	}
	return tw.Flush()
}

func lookupPDU(cfg *sig.Config, name string) (*sig.PDU, error) {
	id, ok := cfg.LookupPDU(name)
	if !ok {
		return nil, fmt.Errorf("unknown pdu %q", name)
	}
	return cfg.PDU(id)
}

func decodeCmd(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	dbPath := fs.String("db", "", "signal database")
	pduName := fs.String("pdu", "", "pdu name")
	data := fs.String("data", "", "frame bytes as hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{{"db", *dbPath}, {"pdu", *pduName}} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	db, err := sigdb.EnsureLoaded(*dbPath)
	if err != nil {
		return err
	}
	pdu, err := lookupPDU(db.Config, *pduName)
	if err != nil {
		return err
	}
	frame, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(*data), " ", ""))
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	p := pipeline.New(db.Config, pipeline.Options{Updates: pipeline.NewUpdateBits(db.Config)})
	results, err := p.ProcessPDU(pdu.ID, frame)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tOUTCOME\tVALUE")
	for _, res := range results {
		value := "-"
		if res.Outcome == pipeline.Committed {
			value = replay.Committed(p, res.Ref)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", db.Config.RefName(res.Ref), res.Outcome, value)
	}
	return tw.Flush()
}

func encodeCmd(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	dbPath := fs.String("db", "", "signal database")
	pduName := fs.String("pdu", "", "pdu name")
	set := fs.String("set", "", "comma-separated Signal=value assignments; arrays as hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{{"db", *dbPath}, {"pdu", *pduName}} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	db, err := sigdb.EnsureLoaded(*dbPath)
	if err != nil {
		return err
	}
	frame, err := encodeFrame(db.Config, *pduName, *set)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hex.EncodeToString(frame))
	return nil
}

// encodeFrame parses Signal=value assignments and builds a frame of pdu
// holding them; unassigned signals keep their init values.
func encodeFrame(cfg *sig.Config, pduName, assignments string) ([]byte, error) {
	pdu, err := lookupPDU(cfg, pduName)
	if err != nil {
		return nil, err
	}
	values := make(map[sig.SignalID]sig.Value)
	for _, part := range strings.Split(assignments, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("assignment %q: want Signal=value", part)
		}
		id, found := cfg.LookupSignal(strings.TrimSpace(name))
		if !found {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		d, _ := cfg.Signal(id)
		if d.PDU != pdu.ID {
			return nil, fmt.Errorf("signal %s is not carried by %s", d.Name, pdu.Name)
		}
		v, err := sigdb.ParseValue(d.Type, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", d.Name, err)
		}
		values[id] = v
	}
	return bitfield.EncodeFrame(cfg, pdu.ID, values)
}

func scanCmd(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	in := fs.String("in", "", "capture file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("in", *in); err != nil {
		return err
	}
	idx, err := capture.ScanFile(*in)
	if err != nil {
		return err
	}
	perPDU := make(map[uint16]int)
	var last time.Duration
	for _, rec := range idx.Records {
		perPDU[rec.PDU]++
		last = rec.Time
	}
	ids := make([]int, 0, len(perPDU))
	for id := range perPDU {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	fmt.Fprintf(stdout, "records=%d resyncs=%d span=%s\n", len(idx.Records), idx.Resyncs, last)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PDU\tRECORDS")
	for _, id := range ids {
		fmt.Fprintf(tw, "%d\t%d\n", id, perPDU[uint16(id)])
	}
	return tw.Flush()
}

func replayCmd(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	dbPath := fs.String("db", "", "signal database")
	in := fs.String("in", "", "capture file")
	out := fs.String("out", "run.json", "run summary output")
	pdfOut := fs.String("pdf", "", "optional PDF report output")
	trace := fs.String("trace", "", "optional JSONL trace output")
	metricsFlag := fs.Bool("metrics", false, "print replay throughput metrics")
	progressFlag := fs.Bool("progress", false, "display replay progress updates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{{"db", *dbPath}, {"in", *in}} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	db, err := sigdb.EnsureLoaded(*dbPath)
	if err != nil {
		return err
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	run, err := replay.File(ctx, db, *in, replay.Options{TracePath: *trace, Metrics: metrics})
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		return err
	}
	if err := writeRun(run, *out, *pdfOut); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run=%s records=%d committed=%d invalid=%d filtered=%d skipped=%d faulted=%d timeouts=%d\n",
		run.ID, run.Records,
		run.Count(pipeline.Committed), run.Count(pipeline.DiscardedInvalid),
		run.Count(pipeline.DiscardedFiltered), run.Count(pipeline.SkippedNotUpdated),
		run.Count(pipeline.Faulted), run.Timeouts)
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Fprintf(stdout, "Metrics: duration=%s records=%d resyncs=%d processed=%s rate=%.0f records/s (%.2f MB/s)\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Records,
			snap.Resyncs,
			common.FormatBytes(snap.Bytes),
			snap.RecordsPerSecond(),
			snap.ThroughputBytesPerSecond()/1_000_000,
		)
	}
	return nil
}

func writeRun(run *replay.Run, out, pdfOut string) error {
	if out != "" {
		if err := report.SaveJSON(run, out); err != nil {
			return fmt.Errorf("write run: %w", err)
		}
	}
	if pdfOut != "" {
		if err := report.SavePDF(run, pdfOut); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	return nil
}

// batchCmd replays every capture below --in and writes one run.json and
// run.pdf per capture into a directory named after it.
func batchCmd(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	dbPath := fs.String("db", "", "signal database")
	in := fs.String("in", "", "directory of captures")
	outDir := fs.String("out-dir", "", "output directory")
	ext := fs.String("ext", ".sigcap", "capture file extension")
	signKey := fs.String("sign-key", "", "RSA private key signing the manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{{"db", *dbPath}, {"in", *in}, {"out-dir", *outDir}} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	db, err := sigdb.EnsureLoaded(*dbPath)
	if err != nil {
		return err
	}
	var inputs []string
	err = filepath.WalkDir(*in, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), *ext) {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no captures found")
	}
	sort.Strings(inputs)
	var key []byte
	if *signKey != "" {
		if key, err = os.ReadFile(*signKey); err != nil {
			return err
		}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	var outputs []string
	for _, path := range inputs {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		dir := filepath.Join(*outDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		trace := filepath.Join(dir, "trace.jsonl")
		run, err := replay.File(ctx, db, path, replay.Options{TracePath: trace})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		runJSON, runPDF := filepath.Join(dir, "run.json"), filepath.Join(dir, "run.pdf")
		if err := writeRun(run, runJSON, runPDF); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		outputs = append(outputs, runJSON, runPDF)
		if _, err := os.Stat(trace); err == nil {
			outputs = append(outputs, trace)
		}
		fmt.Fprintf(stdout, "%s: records=%d committed=%d\n", path, run.Records, run.Count(pipeline.Committed))
	}
	return writeManifest(*outDir, db, outputs, key)
}

// writeManifest lists outputs in dir/MANIFEST.json and, given a key, signs
// the manifest into dir/SIGNATURE.jws.
func writeManifest(dir string, db *sigdb.Database, outputs []string, key []byte) error {
	m, err := manifest.Build(dir, outputs)
	if err != nil {
		return err
	}
	m.Database, m.Digest = db.Name, db.Digest
	if key != nil {
		m.Signature = &manifest.Signature{Type: "jws-rs256", SignatureFile: manifest.SignatureFileName}
	}
	out := filepath.Join(dir, manifest.FileName)
	if err := manifest.Save(m, out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d items)\n", out, len(m.Items))
	if key == nil {
		return nil
	}
	payload, err := os.ReadFile(out)
	if err != nil {
		return err
	}
	j, err := crypto.SignDetachedJWS(payload, key)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}
	data, err := crypto.Marshal(j)
	if err != nil {
		return err
	}
	sigPath := filepath.Join(dir, manifest.SignatureFileName)
	if err := os.WriteFile(sigPath, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", sigPath)
	return nil
}

func verifyCmd(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("dir", "", "batch output directory")
	pub := fs.String("pub", "", "RSA public key or certificate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("dir", *dir); err != nil {
		return err
	}
	mpath := filepath.Join(*dir, manifest.FileName)
	payload, err := os.ReadFile(mpath)
	if err != nil {
		return err
	}
	if *pub != "" {
		pem, err := os.ReadFile(*pub)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(*dir, manifest.SignatureFileName))
		if err != nil {
			return fmt.Errorf("read signature: %w", err)
		}
		j, err := crypto.ParseDetachedJWS(data)
		if err != nil {
			return fmt.Errorf("parse signature: %w", err)
		}
		if err := crypto.VerifyDetachedJWS(payload, j, pem); err != nil {
			return err
		}
	}
	m, err := manifest.Load(mpath)
	if err != nil {
		return err
	}
	if err := manifest.Verify(*dir, m); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ok: %d items\n", len(m.Items))
	return nil
}

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	runPath := fs.String("run", "run.json", "run summary")
	pdfOut := fs.String("pdf", "run.pdf", "PDF output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	run, err := report.LoadJSON(*runPath)
	if err != nil {
		return err
	}
	if err := report.SavePDF(run, *pdfOut); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *pdfOut)
	return nil
}
