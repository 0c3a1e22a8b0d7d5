package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"CoDetServer/capture"
	iface "CoDetServer/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const DefaultInputSize = 416

// NetLoader loads a Darknet or ONNX network through the OpenCV DNN module.
type NetLoader struct {
	Config iface.EngineConfig
	Logger *zap.Logger
}

func (l *NetLoader) LoadModel(ctx context.Context) (iface.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := l.Config
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if len(cfg.Names) == 0 && cfg.NamesPath != "" {
		names, err := ReadNames(cfg.NamesPath)
		if err != nil {
			return nil, err
		}
		cfg.Names = names
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("read net %q: network is empty", cfg.ModelPath)
	}
	if cfg.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	b := &NetBackend{
		cfg:      cfg,
		net:      net,
		outNames: outputNames(&net),
		logger:   logger,
	}
	if cfg.UseGPU {
		b.warmUp()
	}
	logger.Info("network loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("classes", len(cfg.Names)),
		zap.Strings("outputs", b.outNames))
	return b, nil
}

func outputNames(net *gocv.Net) []string {
	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		_ = layer.Close()
	}
	return names
}

// NetBackend runs a YOLO style network in process. It is safe to call from one goroutine at a time;
// the mutex only guards Destroy against a late Detect.
type NetBackend struct {
	mu       sync.Mutex
	cfg      iface.EngineConfig
	net      gocv.Net
	outNames []string
	closed   bool
	logger   *zap.Logger
}

// warmUp pushes a few blank frames through the network so the first real frame does not pay for
// kernel compilation on the GPU.
func (b *NetBackend) warmUp() {
	blank := iface.ImageData{
		Data:     make([]byte, 32*32*3),
		Width:    32,
		Height:   32,
		Channels: 3,
	}
	for i := 0; i < 3; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("panic during warm up", zap.Any("panic", r))
				}
			}()
			_, _ = b.Detect(context.Background(), blank)
		}()
	}
	b.logger.Info("warm up finished")
}

func (b *NetBackend) Detect(ctx context.Context, img iface.ImageData) ([]iface.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, errors.New("empty frame")
	}
	if img.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", img.Channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("network is destroyed")
	}

	mat, err := capture.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	size := b.cfg.InputSize
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	b.net.SetInput(blob, "")

	outs := b.net.ForwardLayers(b.outNames)
	defer func() {
		for i := range outs {
			_ = outs[i].Close()
		}
	}()

	var cands []candidate
	for i := range outs {
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("read output %d: %w", i, err)
		}
		sizes := outs[i].Size()
		if len(sizes) == 0 {
			continue
		}
		cands = append(cands, decodeRows(data, sizes[len(sizes)-1], img.Width, img.Height, b.cfg.Conf)...)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		rects[i] = c.rect
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(rects, scores, b.cfg.Conf, b.cfg.Iou)
	return toDetections(cands, keep, b.cfg.Names), nil
}

func (b *NetBackend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	_ = b.net.Close()
	b.logger.Info("network destroyed", zap.String("model", b.cfg.ModelPath))
}

func (b *NetBackend) CheckConfig() iface.EngineConfig {
	return b.cfg
}
