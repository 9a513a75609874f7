// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package learner

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/types"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Observation is what a received frame tells about its sender.
type Observation struct {
	Source types.MACAddr
	VLAN   mactable.VlanID
	// IP is the sender's IP address, invalid if the frame did not reveal it.
	IP netip.Addr
}

// Dissector decodes the headers of received frames. It is not safe for
// concurrent use.
type Dissector struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	arp     layers.ARP
	ip4     layers.IPv4
	ip6     layers.IPv6
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func NewDissector() *Dissector {
	d := &Dissector{}
	d.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&d.eth, &d.dot1q, &d.arp, &d.ip4, &d.ip6)
	d.parser.IgnoreUnsupported = true
	return d
}

// Dissect returns the sender of frame. Only the first VLAN tag is
// considered. The IP address is taken from ARP packets and from the source
// of IPv4 and IPv6 packets.
func (d *Dissector) Dissect(frame []byte) (Observation, error) {
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return Observation{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	var (
		obs    Observation
		sawEth bool
	)
	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeEthernet:
			src, err := types.MACAddrFromSlice(d.eth.SrcMAC)
			if err != nil {
				return Observation{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
			}
			obs.Source = src
			sawEth = true
		case layers.LayerTypeDot1Q:
			obs.VLAN = mactable.VlanID(d.dot1q.VLANIdentifier)
		case layers.LayerTypeARP:
			obs.IP = d.arpSender(obs.Source)
		case layers.LayerTypeIPv4:
			obs.IP = hostAddr(d.ip4.SrcIP)
		case layers.LayerTypeIPv6:
			obs.IP = hostAddr(d.ip6.SrcIP)
		}
	}
	if !sawEth {
		return Observation{}, fmt.Errorf("%w: no Ethernet header", ErrMalformedFrame)
	}
	return obs, nil
}

// arpSender returns the sender protocol address of an IPv4 over Ethernet
// ARP packet sent by src itself.
func (d *Dissector) arpSender(src types.MACAddr) netip.Addr {
	if d.arp.AddrType != layers.LinkTypeEthernet || d.arp.Protocol != layers.EthernetTypeIPv4 {
		return netip.Addr{}
	}
	hw, err := types.MACAddrFromSlice(d.arp.SourceHwAddress)
	if err != nil || hw != src {
		return netip.Addr{}
	}
	return hostAddr(d.arp.SourceProtAddress)
}

// hostAddr returns b if it can be the address of a single host.
func hostAddr(b []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() || addr.IsLoopback() || addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return netip.Addr{}
	}
	return addr
}
