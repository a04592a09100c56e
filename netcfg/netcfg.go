// Package netcfg brings up the TUN interface the dispatcher runs on.
package netcfg

import "net/netip"

type Configurator interface {
	AddAddress(dev string, prefix netip.Prefix) error // assigns prefix's address to dev
	SetMTU(dev string, mtu int) error
	SetUp(dev string) error
	SetDown(dev string) error
}

// Setup assigns address to dev, sets its MTU and brings it up.
func Setup(c Configurator, dev, address string, mtu int) error {
	prefix, err := netip.ParsePrefix(address)
	if err != nil {
		return err
	}
	if err := c.AddAddress(dev, prefix); err != nil {
		return err
	}
	if err := c.SetMTU(dev, mtu); err != nil {
		return err
	}
	return c.SetUp(dev)
}
