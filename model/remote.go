package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"CoDetServer/capture"
	iface "CoDetServer/interface"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultRemoteTimeout = 5 * time.Second

type detectRequest struct {
	Image string   `json:"image"`
	Conf  float32  `json:"conf"`
	Iou   float32  `json:"iou"`
	Names []string `json:"names,omitempty"`
}

type detectResponse struct {
	Data []iface.Detection `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RemoteLoader connects to a detection server that accepts base64 JPEG frames over HTTP.
type RemoteLoader struct {
	Config iface.EngineConfig
	Logger *zap.Logger
	// Client overrides the HTTP client, mostly for tests.
	Client *resty.Client
}

func (l *RemoteLoader) LoadModel(ctx context.Context) (iface.Backend, error) {
	cfg := l.Config
	if cfg.Endpoint == "" {
		return nil, errors.New("remote endpoint is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := l.Client
	if client == nil {
		client = resty.New()
	}
	client.SetBaseURL(cfg.Endpoint).SetTimeout(cfg.Timeout)

	resp, err := client.R().SetContext(ctx).Get("/api/ping")
	if err != nil {
		return nil, fmt.Errorf("ping %s: %w", cfg.Endpoint, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ping %s: server returned %s", cfg.Endpoint, resp.Status())
	}
	logger.Info("remote detector reachable", zap.String("endpoint", cfg.Endpoint))
	return &RemoteBackend{cfg: cfg, client: client, logger: logger}, nil
}

// RemoteBackend posts every frame to the remote detector.
type RemoteBackend struct {
	cfg    iface.EngineConfig
	client *resty.Client
	logger *zap.Logger
}

func (b *RemoteBackend) Detect(ctx context.Context, img iface.ImageData) ([]iface.Detection, error) {
	payload, err := capture.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	var (
		result  detectResponse
		failure errorResponse
	)
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(detectRequest{
			Image: base64.StdEncoding.EncodeToString(payload),
			Conf:  b.cfg.Conf,
			Iou:   b.cfg.Iou,
			Names: b.cfg.Names,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/api/detect")
	if err != nil {
		return nil, fmt.Errorf("remote detect: %w", err)
	}
	if resp.IsError() {
		if failure.Error != "" {
			return nil, fmt.Errorf("remote detect: %s: %s", resp.Status(), failure.Error)
		}
		return nil, fmt.Errorf("remote detect: %s", resp.Status())
	}
	return result.Data, nil
}

func (b *RemoteBackend) Destroy() {
	b.logger.Info("remote detector released", zap.String("endpoint", b.cfg.Endpoint))
}

func (b *RemoteBackend) CheckConfig() iface.EngineConfig {
	return b.cfg
}
