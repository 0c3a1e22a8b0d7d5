package model

import (
	"fmt"

	iface "CoDetServer/interface"

	"go.uber.org/zap"
)

const (
	BackendOpenCV = "opencv"
	BackendRemote = "remote"
)

// NewLoader picks the loader for cfg.Backend.
func NewLoader(cfg iface.EngineConfig, logger *zap.Logger) (iface.BackendLoader, error) {
	switch cfg.Backend {
	case BackendOpenCV, "":
		return &NetLoader{Config: cfg, Logger: logger}, nil
	case BackendRemote:
		return &RemoteLoader{Config: cfg, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
