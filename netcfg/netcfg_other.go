//go:build !linux
// +build !linux

package netcfg

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

func New(log *zap.Logger) (Configurator, error) {
	return nil, fmt.Errorf("interface configuration is not supported on %s", runtime.GOOS)
}
