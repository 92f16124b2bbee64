// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}
	prometheusMW   prometheusMiddleware
)

const (
	playlistReqsName    = "playlist_requests_total"
	playlistLatencyName = "playlist_request_duration_milliseconds"
	mediaReqsName       = "media_requests_total"
	mediaLatencyName    = "media_request_duration_milliseconds"
	apiReqsName         = "api_requests_total"
	activeStreamsName   = "active_streams"
	segDownloadedName   = "segments_downloaded_total"
	segDecryptedName    = "segments_decrypted_total"
	segFailedName       = "segments_failed_total"
	mpdRefreshesName    = "manifest_refreshes_total"
	service             = "dash2hls"
)

// prometheusMiddleware provides a handler that exposes prometheus metrics
// for playlist, media segment, and control-plane requests.
type prometheusMiddleware struct {
	playlistReqs    *prometheus.CounterVec
	playlistLatency *prometheus.HistogramVec
	mediaReqs       *prometheus.CounterVec
	mediaLatency    *prometheus.HistogramVec
	apiReqs         *prometheus.CounterVec
	activeStreams   prometheus.Gauge

	// pipeline metrics, incremented by the stream sessions
	segDownloaded *prometheus.CounterVec
	segDecrypted  *prometheus.CounterVec
	segFailed     *prometheus.CounterVec
	mpdRefreshes  *prometheus.CounterVec
}

func init() {
	prometheusMW.playlistReqs = newCounter(playlistReqsName,
		"Number of playlist requests processed, partitioned by status code.", service)
	prometheusMW.playlistLatency = newHistogram(playlistLatencyName,
		"Playlist response latency.", service, defaultBuckets)
	prometheusMW.mediaReqs = newCounter(mediaReqsName,
		"Number of media segment requests processed, partitioned by status code.", service)
	prometheusMW.mediaLatency = newHistogram(mediaLatencyName,
		"Media segment response latency.", service, defaultBuckets)
	prometheusMW.apiReqs = newCounter(apiReqsName,
		"Number of stream API requests processed, partitioned by status code.", service)
	prometheusMW.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        activeStreamsName,
		Help:        "Number of stream sessions currently managed.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(prometheusMW.activeStreams)
	prometheusMW.segDownloaded = newLabeledCounter(segDownloadedName,
		"Number of media segments downloaded from origins, partitioned by variant.",
		service, "variant")
	prometheusMW.segDecrypted = newLabeledCounter(segDecryptedName,
		"Number of media segments decrypted, partitioned by variant.",
		service, "variant")
	prometheusMW.segFailed = newLabeledCounter(segFailedName,
		"Number of segment download or decrypt failures, partitioned by variant.",
		service, "variant")
	prometheusMW.mpdRefreshes = newLabeledCounter(mpdRefreshesName,
		"Number of manifest refresh attempts, partitioned by result.",
		service, "result")
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6

		if strings.HasPrefix(path, "/streams") {
			mw.apiReqs.WithLabelValues(status).Inc()
			return
		}
		extIdx := strings.LastIndex(path, ".")
		if extIdx < 0 {
			return
		}
		switch ext := path[extIdx:]; ext {
		case ".m3u8":
			mw.playlistReqs.WithLabelValues(status).Inc()
			mw.playlistLatency.WithLabelValues(status).Observe(latencyMS)
		case ".m4s", ".mp4", ".cmfv", ".cmfa":
			mw.mediaReqs.WithLabelValues(status).Inc()
			mw.mediaLatency.WithLabelValues(status).Observe(latencyMS)
		}
	}
	return http.HandlerFunc(fn)
}

func setActiveStreams(n int) {
	prometheusMW.activeStreams.Set(float64(n))
}

func countSegmentDownloaded(variant string) {
	prometheusMW.segDownloaded.WithLabelValues(variant).Inc()
}

func countSegmentDecrypted(variant string) {
	prometheusMW.segDecrypted.WithLabelValues(variant).Inc()
}

func countSegmentFailed(variant string) {
	prometheusMW.segFailed.WithLabelValues(variant).Inc()
}

func countManifestRefresh(result string) {
	prometheusMW.mpdRefreshes.WithLabelValues(result).Inc()
}

func newCounter(counterName, help, serviceName string) *prometheus.CounterVec {
	return newLabeledCounter(counterName, help, serviceName, "code")
}

func newLabeledCounter(counterName, help, serviceName, label string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{label},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}
