// Package metrics exposes client health as Prometheus collectors. Collectors
// implements the recorder interfaces of the transport and the dispatcher.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatsync/client/internal/logger"
	"github.com/chatsync/client/internal/transport"
)

const namespace = "chatsync"

// Collectors holds every client metric.
type Collectors struct {
	registerer prometheus.Registerer

	FramesReceived    prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	HandlerFailures   *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	Sends             *prometheus.CounterVec
	ConnectionState   prometheus.Gauge
}

// New registers the client metrics on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		registerer: reg,
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound websocket frames handed to the dispatcher.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded because they could not be decoded.",
		}, []string{"code"}),
		HandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Event handler invocations that returned an error or panicked.",
		}, []string{"code"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a failed or lost connection.",
		}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound frame send attempts by outcome.",
		}, []string{"outcome"}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Transport state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed.",
		}),
	}
}

// RegisterUnread exposes total as the unread_total gauge.
func (c *Collectors) RegisterUnread(total func() int) {
	promauto.With(c.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unread_total",
		Help:      "Unread messages across all rooms.",
	}, func() float64 { return float64(total()) })
}

func (c *Collectors) FrameReceived() {
	c.FramesReceived.Inc()
}

func (c *Collectors) FrameDropped(code string) {
	c.FramesDropped.WithLabelValues(code).Inc()
}

func (c *Collectors) HandlerFailed(code string) {
	c.HandlerFailures.WithLabelValues(code).Inc()
}

func (c *Collectors) StateChanged(s transport.State) {
	c.ConnectionState.Set(float64(s))
}

func (c *Collectors) ReconnectScheduled(int) {
	c.ReconnectAttempts.Inc()
}

func (c *Collectors) SendCompleted(o transport.SendOutcome) {
	c.Sends.WithLabelValues(o.String()).Inc()
}

// Serve exposes g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) error {
	log = logger.Component(log, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
