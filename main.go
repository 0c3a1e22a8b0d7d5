package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"CoDetServer/api"
	"CoDetServer/capture"
	"CoDetServer/config"
	"CoDetServer/eventlog"
	iface "CoDetServer/interface"
	"CoDetServer/journal"
	"CoDetServer/kafka"
	"CoDetServer/logger"
	"CoDetServer/model"
	"CoDetServer/monitor"
	"CoDetServer/notify"
	"CoDetServer/overlay"
	"CoDetServer/render"
	"CoDetServer/rpcserver"
	"CoDetServer/s3"
	"CoDetServer/session"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration")
	autoStart := flag.Bool("start", false, "start detection immediately")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *autoStart); err != nil {
		logger.Log().Error("exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Log().Info("Safely exited")
}

func run(cfg *config.Config, autoStart bool) error {
	log := logger.Log()
	log.Info(strings.Repeat("#", 64))
	log.Info("starting co-detection server",
		zap.Int("cpus", runtime.NumCPU()),
		zap.String("backend", cfg.Model.Backend),
		zap.String("device", cfg.Capture.Device),
		zap.String("targetA", cfg.Detector.TargetClassA),
		zap.String("targetB", cfg.Detector.TargetClassB),
		zap.Float64("threshold", cfg.Detector.ConfidenceThreshold),
		zap.String("http", cfg.Server.HTTPAddr),
		zap.String("grpc", cfg.Server.GRPCAddr),
		zap.String("metrics", cfg.Server.MetricsAddr))
	log.Info(strings.Repeat("#", 64))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, err := monitor.New(logger.Named("monitor"))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	canvas := render.NewCanvas()
	overlays := overlay.NewManager(canvas)
	device := capture.NewDevice(cfg.Capture.Device, logger.Named("capture"))
	device.MaxReadFailures = cfg.Capture.MaxReadFailures
	tap := render.NewTap(device)
	snapshot := &render.Snapshotter{Tap: tap, Canvas: canvas}

	loader, err := model.NewLoader(cfg.Model, logger.Named("model"))
	if err != nil {
		return err
	}

	display := eventlog.NewLog(cfg.EventLog.Capacity)
	// Outbound sinks see the debounced stream the display log shows, not every tick.
	var (
		queued   []*eventlog.AsyncSink
		outbound []iface.EventSink
	)
	addAsync := func(name string, s iface.EventSink) {
		a := eventlog.Async(name, s, cfg.EventLog.SinkBuffer, logger.Named("sink"))
		queued = append(queued, a)
		outbound = append(outbound, a)
	}
	var closers []func() error

	var history *journal.Journal
	if cfg.Journal.Driver != "" {
		history, err = journal.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN, logger.Named("journal"))
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		closers = append(closers, history.Close)
		addAsync("journal", history)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		if err != nil {
			return err
		}
		closers = append(closers, producer.Close)
		addAsync("kafka", producer)
	}
	if cfg.Webhook.URL != "" {
		addAsync("webhook", notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout, logger.Named("webhook"),
			iface.KindMatched, iface.KindAlert))
	}

	sink := eventlog.Multi(display, mon, eventlog.Debounce(eventlog.Multi(outbound...)))
	mgr, err := session.New(cfg.Engine(), tap, loader,
		session.WithEventSink(sink),
		session.WithOverlayManager(overlays),
		session.WithTickObserver(mon),
		session.WithLogger(logger.Named("session")))
	if err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithSnapshot(snapshot), api.WithLogger(logger.Named("http"))}
	if history != nil {
		apiOpts = append(apiOpts, api.WithHistory(history))
	}
	httpServer := api.New(mgr, display, apiOpts...)
	grpcServer := rpcserver.NewGRPCServer(rpcserver.NewServer(mgr, display, logger.Named("grpc")),
		[]grpc.UnaryServerInterceptor{mon.UnaryInterceptor()},
		[]grpc.StreamServerInterceptor{mon.StreamInterceptor()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		return rpcserver.Serve(gctx, grpcServer, lis, logger.Named("grpc"))
	})
	g.Go(func() error { return mon.ListenAndServe(gctx, cfg.Server.MetricsAddr, monitor.DefaultInterval) })

	if cfg.Minio.Endpoint != "" {
		client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL)
		if err != nil {
			return err
		}
		archiver := s3.NewArchiver(client, cfg.Minio.Bucket, snapshot, logger.Named("s3"))
		if err := archiver.EnsureBucket(ctx); err != nil {
			return err
		}
		entries, cancel := display.Subscribe(cfg.EventLog.SinkBuffer)
		g.Go(func() error {
			defer cancel()
			archiver.Run(gctx, entries)
			return nil
		})
	}

	var wg sync.WaitGroup
	if cfg.Heartbeat.URL != "" {
		ip, err := notify.GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP", zap.Error(err))
		}
		hb := notify.NewHeartbeat(cfg.Heartbeat.URL, ip, portOf(cfg.Server.GRPCAddr), cfg.Heartbeat.Interval,
			func() (string, bool) {
				st := mgr.Status()
				return st.State, st.Running
			}, logger.Named("heartbeat"))
		wg.Add(1)
		go hb.Run(gctx, &wg)
	} else {
		log.Info("heartbeat url not set, skipping registration")
	}

	if autoStart {
		if err := mgr.Start(gctx); err != nil {
			log.Error("auto start failed", zap.Error(err))
		}
	}

	<-gctx.Done()
	log.Info("shutting down")
	if err := mgr.Stop(); err != nil {
		log.Warn("detector stop", zap.Error(err))
	}
	err = g.Wait()
	wg.Wait()
	for _, q := range queued {
		q.Close()
	}
	for _, c := range closers {
		if cerr := c(); cerr != nil {
			log.Warn("close", zap.Error(cerr))
		}
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
