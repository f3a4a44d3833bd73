package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visiontrigger/internal/actuation"
	"visiontrigger/internal/config"
	"visiontrigger/internal/control"
	"visiontrigger/internal/link"
	"visiontrigger/internal/metrics"
	"visiontrigger/internal/pipeline"
	"visiontrigger/internal/trigger"
)

type offlineTransport struct{}

func (offlineTransport) Name() string { return "offline" }

func (offlineTransport) Connect(ctx context.Context, peer string, notify link.NotifyFunc) (link.Session, error) {
	return nil, errors.New("offline")
}

type staticSource struct {
	batch *pipeline.Batch
}

func (s *staticSource) Snapshot() *pipeline.Batch      { return s.batch }
func (s *staticSource) GetStats() pipeline.SourceStats { return pipeline.SourceStats{} }
func (s *staticSource) NextDetections(ctx context.Context) (*pipeline.Batch, error) {
	return s.batch, nil
}

func newTestAPI(t *testing.T, batch *pipeline.Batch) http.Handler {
	t.Helper()
	src := &staticSource{batch: batch}
	mgr := link.NewManager(offlineTransport{}, link.Config{Peer: "2C:CF:67:98:33:08"})
	policy := trigger.NewPolicy(trigger.PolicyConfig{TargetLabel: "cup", Threshold: 0.5})
	act := actuation.New(mgr, actuation.Config{}, nil)
	loop := control.New(src, policy, act.Actuate, nil, control.Config{})

	return newHTTPHandler(&apiDeps{
		link:     mgr,
		loop:     loop,
		policy:   policy,
		actuator: act,
		source:   src,
		metrics:  metrics.New().Handler(),
	}, log.New(io.Discard, "", 0), false)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestAPI(t, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestStatus(t *testing.T) {
	batch := &pipeline.Batch{Seq: 42, Width: 640, Height: 480,
		Detections: []pipeline.Detection{{Label: "cup", Confidence: 0.9}}}
	rec := get(t, newTestAPI(t, batch), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	linkStatus := body["link"].(map[string]any)
	assert.Equal(t, "disconnected", linkStatus["status"])
	assert.Equal(t, "2C:CF:67:98:33:08", linkStatus["peer_address"])

	trig := body["trigger"].(map[string]any)
	assert.Equal(t, "cup", trig["target_label"])

	last := body["last_batch"].(map[string]any)
	assert.Equal(t, float64(42), last["seq"])
}

func TestSnapshot(t *testing.T) {
	rec := get(t, newTestAPI(t, nil), "/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var frame bytes.Buffer
	require.NoError(t, jpeg.Encode(&frame, image.NewGray(image.Rect(0, 0, 64, 48)), nil))
	batch := &pipeline.Batch{Frame: frame.Bytes(), Detections: []pipeline.Detection{
		{Label: "cup", Confidence: 0.8, BBox: pipeline.BBox{X0: 4, Y0: 4, X1: 40, Y1: 40}},
	}}

	rec = get(t, newTestAPI(t, batch), "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	_, err := jpeg.Decode(rec.Body)
	assert.NoError(t, err)
}

func TestMetricsMounted(t *testing.T) {
	rec := get(t, newTestAPI(t, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "visiontrigger_fires_total")
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, applyFlags(cfg, "/models/y.hef", "labels.txt", "0.7", "AA:BB:CC:DD:EE:FF", "mqtt", "", "debug"))

	assert.Equal(t, "/models/y.hef", cfg.Detector.Model)
	assert.Equal(t, "labels.txt", cfg.Detector.Labels)
	assert.InDelta(t, 0.7, cfg.Detector.ScoreThreshold, 1e-6)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Link.Peer)
	assert.Equal(t, "mqtt", cfg.Link.Transport)
	assert.Equal(t, "debug", cfg.LogLevel)

	assert.Error(t, applyFlags(config.Default(), "", "", "high", "", "", "", ""))
}

func TestNewTransport(t *testing.T) {
	cfg := config.Default()
	tr, err := newTransport(cfg.Link)
	require.NoError(t, err)
	assert.Equal(t, "ble", tr.Name())

	cfg.Link.Transport = "carrier-pigeon"
	_, err = newTransport(cfg.Link)
	assert.Error(t, err)
}
