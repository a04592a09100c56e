//go:build linux
// +build linux

package netcfg

import (
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type ipRoute2 struct {
	log *zap.Logger
	run func(name string, args ...string) ([]byte, error)
}

// New returns a Configurator driving iproute2's ip command.
func New(log *zap.Logger) (Configurator, error) {
	c := &ipRoute2{log: log, run: runCombined}
	if err := c.isIPAvailable(); err != nil {
		return nil, err
	}
	return c, nil
}

func runCombined(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// isIPAvailable checks if the ip command is available on the system.
func (c *ipRoute2) isIPAvailable() error {
	output, err := c.run("ip", "-V")
	if err != nil {
		return fmt.Errorf("ip command is not available: %v\nOutput: %s", err, string(output))
	}
	return nil
}

// AddAddress assigns prefix to dev unless it is already assigned.
func (c *ipRoute2) AddAddress(dev string, prefix netip.Prefix) error {
	output, err := c.run("ip", "-4", "addr", "show", "dev", dev)
	if err != nil {
		return fmt.Errorf("failed to list addresses of %s: %v\nOutput: %s", dev, err, string(output))
	}
	if strings.Contains(string(output), "inet "+prefix.String()+" ") {
		c.log.Info("address already assigned", zap.String("dev", dev), zap.Stringer("prefix", prefix))
		return nil
	}
	if output, err := c.run("ip", "addr", "add", prefix.String(), "dev", dev); err != nil {
		return fmt.Errorf("failed to add address %s to %s: %v\nOutput: %s", prefix, dev, err, string(output))
	}
	c.log.Info("address assigned", zap.String("dev", dev), zap.Stringer("prefix", prefix))
	return nil
}

func (c *ipRoute2) SetMTU(dev string, mtu int) error {
	if output, err := c.run("ip", "link", "set", "dev", dev, "mtu", strconv.Itoa(mtu)); err != nil {
		return fmt.Errorf("failed to set mtu of %s: %v\nOutput: %s", dev, err, string(output))
	}
	return nil
}

func (c *ipRoute2) SetUp(dev string) error {
	if output, err := c.run("ip", "link", "set", "dev", dev, "up"); err != nil {
		return fmt.Errorf("failed to bring %s up: %v\nOutput: %s", dev, err, string(output))
	}
	c.log.Info("interface up", zap.String("dev", dev))
	return nil
}

func (c *ipRoute2) SetDown(dev string) error {
	if output, err := c.run("ip", "link", "set", "dev", dev, "down"); err != nil {
		return fmt.Errorf("failed to bring %s down: %v\nOutput: %s", dev, err, string(output))
	}
	return nil
}
