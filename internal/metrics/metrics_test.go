package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServerExposesRecorder(t *testing.T) {
	rec := NewRecorder(DirectionRx, "mtest0", "classic")
	rec.Frame(8)
	rec.Frame(8)
	rec.TxDrops(0)
	rec.DiagnosticValid()
	rec.DiagnosticMalformed()
	rec.SequenceGap(TrackerDiagnostic, 4)
	rec.SequenceGap("unknown", 4)
	rec.OutOfOrder(TrackerCounter)
	rec.Arrival(time.Millisecond, 50*time.Microsecond)
	rec.Rate(1000)

	srv := NewServer("127.0.0.1:0", "")
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	body := scrape(t, "http://"+srv.Addr()+"/metrics")

	assert.Contains(t, body, `canstandin_frames_total{direction="rx",interface="mtest0"} 2`)
	assert.Contains(t, body, `canstandin_bytes_total{direction="rx",interface="mtest0"} 16`)
	assert.Contains(t, body, `canstandin_diagnostic_frames_total{interface="mtest0",result="malformed"} 1`)
	assert.Contains(t, body, `canstandin_sequence_drops_total{interface="mtest0",tracker="diag16"} 4`)
	assert.Contains(t, body, `canstandin_out_of_order_total{interface="mtest0",tracker="counter32"} 1`)
	assert.Contains(t, body, `canstandin_frames_per_second{direction="rx",interface="mtest0"} 1000`)
	assert.Contains(t, body, `canstandin_run_info{direction="rx",interface="mtest0",variant="classic"} 1`)
	assert.Contains(t, body, `canstandin_inter_arrival_seconds_count{interface="mtest0"} 1`)

	rec.Done()
	body = scrape(t, "http://"+srv.Addr()+"/metrics")
	assert.Contains(t, body, `canstandin_run_info{direction="rx",interface="mtest0",variant="classic"} 0`)
}

func TestServerListenError(t *testing.T) {
	first := NewServer("127.0.0.1:0", "/m")
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewServer(first.Addr(), "/m")
	assert.Error(t, second.Start(context.Background()))
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "").Stop(context.Background()))
}
