package monitor

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"time"

	iface "CoDetServer/interface"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const DefaultInterval = 500 * time.Millisecond

// Monitor exports detector and process metrics. It is a TickObserver and an EventSink.
type Monitor struct {
	registry *prometheus.Registry
	proc     *process.Process
	logger   *zap.Logger

	memUsage     prometheus.Gauge
	cpuUsage     prometheus.Gauge
	grpcTotal    *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	events       *prometheus.CounterVec
	running      prometheus.Gauge
}

func New(logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		proc:     proc,
		logger:   logger,
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		grpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}, []string{"method", "code"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codet_ticks_total",
			Help: "Detection loop iterations by outcome",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codet_tick_duration_seconds",
			Help:    "Duration of one detection loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codet_events_total",
			Help: "Events published by the detector by kind",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codet_detection_running",
			Help: "1 while a detection loop is running",
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.grpcTotal, m.ticks, m.tickDuration, m.events, m.running)
	return m, nil
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) ObserveTick(outcome iface.TickOutcome, d time.Duration) {
	m.ticks.WithLabelValues(string(outcome)).Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Monitor) Publish(e iface.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case iface.KindStarted:
		m.running.Set(1)
	case iface.KindStopped:
		m.running.Set(0)
	}
}

func (m *Monitor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.grpcTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

func (m *Monitor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		m.grpcTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return err
	}
}

func (m *Monitor) CheckProcessInfo() {
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Serve exposes /metrics on lis and samples the process every interval until ctx is done.
func (m *Monitor) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	m.logger.Info("metrics server listening", zap.String("addr", lis.Addr().String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.CheckProcessInfo()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case err := <-errCh:
			return err
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
		return err
	}
	return nil
}

// ListenAndServe is Serve on a TCP address.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.Serve(ctx, lis, interval)
}
