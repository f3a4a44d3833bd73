package main

import (
	"context"
	"log"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"visiontrigger/internal/actuation"
	"visiontrigger/internal/control"
	"visiontrigger/internal/link"
	"visiontrigger/internal/overlay"
	"visiontrigger/internal/pipeline"
	"visiontrigger/internal/trigger"
)

// snapshotter is the part of the detection source the HTTP API reads
type snapshotter interface {
	Snapshot() *pipeline.Batch
	GetStats() pipeline.SourceStats
}

// apiDeps is everything the HTTP API reports on
type apiDeps struct {
	link     *link.Manager
	loop     *control.Loop
	policy   *trigger.Policy
	actuator *actuation.Actuator
	source   snapshotter
	metrics  http.Handler
	events   http.Handler
}

type triggerStatus struct {
	TargetLabel string    `json:"target_label"`
	Threshold   float32   `json:"threshold"`
	Cooldown    string    `json:"cooldown"`
	LastFire    time.Time `json:"last_fire,omitempty"`
}

type batchSummary struct {
	Seq        uint64               `json:"seq"`
	Timestamp  time.Time            `json:"timestamp"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Detections []pipeline.Detection `json:"detections"`
}

type statusResponse struct {
	Link      link.LinkSession     `json:"link"`
	LinkStats link.Stats           `json:"link_stats"`
	Loop      control.Stats        `json:"loop"`
	Trigger   triggerStatus        `json:"trigger"`
	Actuation actuation.Stats      `json:"actuation"`
	Source    pipeline.SourceStats `json:"source"`
	LastBatch *batchSummary        `json:"last_batch,omitempty"`
}

func (d *apiDeps) status() *statusResponse {
	resp := &statusResponse{
		Link:      d.link.Session(),
		LinkStats: d.link.Stats(),
		Loop:      d.loop.Stats(),
		Trigger: triggerStatus{
			TargetLabel: d.policy.TargetLabel(),
			Threshold:   d.policy.Threshold(),
			Cooldown:    d.policy.Cooldown().String(),
		},
		Actuation: d.actuator.Stats(),
		Source:    d.source.GetStats(),
	}
	if last, ok := d.policy.LastFire(); ok {
		resp.Trigger.LastFire = last
	}
	if b := d.source.Snapshot(); b != nil {
		resp.LastBatch = &batchSummary{
			Seq:        b.Seq,
			Timestamp:  b.Timestamp,
			Width:      b.Width,
			Height:     b.Height,
			Detections: b.Detections,
		}
	}
	return resp
}

// newHTTPHandler mounts the API on a goa muxer and wraps it with the goa
// request id and logging middlewares.
func newHTTPHandler(d *apiDeps, logger *log.Logger, debug bool) http.Handler {
	adapter := middleware.NewLogger(logger)
	eh := errorHandler(logger)

	mux := goahttp.NewMuxer()

	mux.Handle("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})

	mux.Handle("GET", "/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := goahttp.ResponseEncoder(r.Context(), w).Encode(d.status()); err != nil {
			eh(r.Context(), w, err)
		}
	})

	mux.Handle("GET", "/snapshot", func(w http.ResponseWriter, r *http.Request) {
		batch := d.source.Snapshot()
		if batch == nil || len(batch.Frame) == 0 {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		img, err := overlay.Render(batch, overlay.Options{Target: d.policy.TargetLabel()})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			eh(r.Context(), w, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(img)
	})

	if d.metrics != nil {
		mux.Handle("GET", "/metrics", d.metrics.ServeHTTP)
	}
	if d.events != nil {
		mux.Handle("GET", "/ws/events", d.events.ServeHTTP)
	}

	var handler http.Handler = mux
	if debug {
		handler = httpmdlwr.Debug(mux, logger.Writer())(handler)
	}
	handler = httpmdlwr.Log(adapter)(handler)
	handler = httpmdlwr.RequestID()(handler)
	return handler
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully
func serveHTTP(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Printf("HTTP server listening on %q", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down HTTP server at %q", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("failed to shutdown: %v", err)
	}
	return nil
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(logger *log.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
}
