package netif

import (
	"github.com/Wifx/gonetworkmanager"
)

// NMPolicy asks NetworkManager to leave tunnel interfaces alone, so that
// it does not configure addresses on bridge ports.
type NMPolicy struct {
	nm gonetworkmanager.NetworkManager
}

// NewNMPolicy connects to NetworkManager.
func NewNMPolicy() (*NMPolicy, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, wrap(err, "netif-networkmanager", "Cannot connect to NetworkManager")
	}

	return &NMPolicy{nm: nm}, nil
}

// Unmanage marks ifname unmanaged.
func (p *NMPolicy) Unmanage(ifname string) error {
	dev, err := p.nm.GetDeviceByIpIface(ifname)
	if err != nil {
		return err
	}

	return dev.SetPropertyManaged(false)
}
