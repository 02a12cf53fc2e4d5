package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/signal"
)

func TestObserveCountsByKind(t *testing.T) {
	c := New()
	c.Observe(signal.SignalRef(1), pipeline.Committed)
	c.Observe(signal.SignalRef(2), pipeline.Committed)
	c.Observe(signal.GroupRef(0), pipeline.Faulted)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.outcomes.WithLabelValues("signal", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues("group", "faulted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.violations))
}

func TestNotifierForwards(t *testing.T) {
	c := New()
	var got []signal.Event
	n := c.Notifier(signal.NotifierFunc(func(_ signal.Ref, ev signal.Event) { got = append(got, ev) }))
	n.Notify(signal.SignalRef(0), signal.EventAccepted)
	n.Notify(signal.SignalRef(0), signal.EventTimeout)
	c.Notifier(nil).Notify(signal.SignalRef(0), signal.EventAccepted)

	assert.Equal(t, []signal.Event{signal.EventAccepted, signal.EventTimeout}, got)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.notifications.WithLabelValues("accepted")))
}

func TestHandlerExposition(t *testing.T) {
	c := New()
	c.Frame("Engine", 3*time.Microsecond)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `sigrx_ingest_frames_total{pdu="Engine"} 1`), string(body))
}
