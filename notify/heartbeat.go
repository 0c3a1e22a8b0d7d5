package notify

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// StatusFunc reports the detector state carried by each heartbeat.
type StatusFunc func() (state string, running bool)

// Heartbeat periodically registers this instance with a registry server.
type Heartbeat struct {
	URL      string
	IP       string
	Port     int
	Interval time.Duration
	Status   StatusFunc
	Logger   *zap.Logger

	id     string
	client *resty.Client
}

func NewHeartbeat(url, ip string, port int, interval time.Duration, status StatusFunc, logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		URL:      url,
		IP:       ip,
		Port:     port,
		Interval: interval,
		Status:   status,
		Logger:   logger,
		id:       uuid.NewString(),
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Beat sends one registration. Panics in the request path are logged and swallowed.
func (h *Heartbeat) Beat(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("heartbeat panic recovered", zap.Any("panic", r))
			err = fmt.Errorf("heartbeat panic: %v", r)
		}
	}()
	req := RegisterRequest{
		Id:        h.id,
		IP:        h.IP,
		Port:      h.Port,
		TimeStamp: time.Now().Unix(),
	}
	if h.Status != nil {
		req.State, req.Running = h.Status()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		Post(h.URL)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat: server returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("heartbeat: registry rejected %s", h.id)
	}
	return nil
}

// Run beats once immediately and then every Interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	beat := func() {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.Logger.Error("heartbeat failed", zap.Error(err))
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			h.Logger.Info("heartbeat context cancelled, exiting")
			return
		case <-ticker.C:
			beat()
		}
	}
}

// GetOutboundIP returns the local address used to reach the public internet. Dialing UDP sends
// nothing, it only resolves the route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
