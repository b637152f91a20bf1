package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProm_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm("up2date", reg)

	p.IncInstallStarted(".msi")
	p.IncInstallStarted(".msi")
	p.IncInstallCompleted(".msi", "Success")
	p.IncSignatureRejected(".nupkg")
	p.ObserveScan(150*time.Millisecond, 3)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `up2date_installs_completed_total{result="Success",type=".msi"} 1`)
	text := string(body)
	assert.Contains(t, text, `up2date_installs_started_total{type=".msi"} 2`)
	assert.Contains(t, text, `up2date_signature_rejected_total{type=".nupkg"} 1`)
	assert.Contains(t, text, "up2date_packages 3")
	assert.Contains(t, text, "up2date_scan_duration_seconds_count 1")
}

func TestNoopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.IncInstallStarted(".msi")
	r.ObserveScan(time.Second, 1)
}
