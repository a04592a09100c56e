//go:build !linux
// +build !linux

package lib

import (
	"runtime"

	"github.com/pkg/errors"
)

type Tun struct{}

func OpenTun(name string) (*Tun, error) {
	return nil, errors.Errorf("tun devices are not supported on %s", runtime.GOOS)
}

func (t *Tun) Name() string { return "" }

func (t *Tun) Read(p []byte) (int, error) { return 0, errors.New("tun: not supported") }

func (t *Tun) Write(p []byte) (int, error) { return 0, errors.New("tun: not supported") }

func (t *Tun) Close() error { return nil }
