// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package probe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/cilium/hive/hivetest"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/types"
)

var (
	localMAC = types.MustParseMACAddr("02:00:00:00:00:aa")
	hostMAC  = types.MustParseMACAddr("00:11:22:33:44:55")
	srcIP    = netip.MustParseAddr("192.168.0.1")
	targetIP = netip.MustParseAddr("192.168.0.254")
)

func decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	return pkt
}

func TestBuildARPProbe(t *testing.T) {
	frame, err := BuildARPProbe(localMAC, srcIP, hostMAC, 10, targetIP)
	require.NoError(t, err)

	pkt := decode(t, frame)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, net.HardwareAddr(hostMAC[:]), eth.DstMAC)
	require.Equal(t, net.HardwareAddr(localMAC[:]), eth.SrcMAC)
	require.Equal(t, layers.EthernetTypeDot1Q, eth.EthernetType)

	dot1q := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q)
	require.EqualValues(t, 10, dot1q.VLANIdentifier)
	require.Equal(t, layers.EthernetTypeARP, dot1q.Type)

	arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.EqualValues(t, layers.ARPRequest, arp.Operation)
	require.Equal(t, []byte(localMAC[:]), arp.SourceHwAddress)
	require.Equal(t, srcIP.AsSlice(), arp.SourceProtAddress)
	require.Equal(t, []byte(hostMAC[:]), arp.DstHwAddress)
	require.Equal(t, targetIP.AsSlice(), arp.DstProtAddress)
}

func TestBuildInverseARPProbe(t *testing.T) {
	frame, err := BuildARPProbe(localMAC, srcIP, hostMAC, mactable.VlanUntagged, netip.Addr{})
	require.NoError(t, err)

	arp := decode(t, frame).Layer(layers.LayerTypeARP).(*layers.ARP)
	require.EqualValues(t, OperationInverseRequest, arp.Operation)
	require.Equal(t, []byte(localMAC[:]), arp.SourceHwAddress)
	require.Equal(t, srcIP.AsSlice(), arp.SourceProtAddress)
	require.Equal(t, []byte(hostMAC[:]), arp.DstHwAddress)
	require.Equal(t, []byte{0, 0, 0, 0}, arp.DstProtAddress, "the address of the host is asked for")
}

func TestBuildARPProbeUntagged(t *testing.T) {
	frame, err := BuildARPProbe(localMAC, netip.IPv4Unspecified(), hostMAC, mactable.VlanUntagged, targetIP)
	require.NoError(t, err)

	pkt := decode(t, frame)
	require.Nil(t, pkt.Layer(layers.LayerTypeDot1Q))
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, layers.EthernetTypeARP, eth.EthernetType)
	require.NotNil(t, pkt.Layer(layers.LayerTypeARP))
}

func TestBuildARPProbeInvalid(t *testing.T) {
	_, err := BuildARPProbe(localMAC, srcIP, hostMAC, 4096, targetIP)
	require.ErrorIs(t, err, mactable.ErrInvalidVLAN)

	_, err = BuildARPProbe(localMAC, srcIP, types.MustParseMACAddr("ff:ff:ff:ff:ff:ff"), 0, targetIP)
	require.ErrorIs(t, err, mactable.ErrInvalidMAC)

	_, err = BuildARPProbe(localMAC, srcIP, hostMAC, 0, netip.MustParseAddr("fd00::1"))
	require.Error(t, err)
}

type fakeLinks map[string]Interface

func (l fakeLinks) InterfaceByName(name string) (Interface, error) {
	iface, ok := l[name]
	if !ok {
		return Interface{}, errors.New("link not found")
	}
	return iface, nil
}

type sentFrame struct {
	iface Interface
	frame []byte
}

type fakeSender struct {
	sent []sentFrame
	err  error
}

func (s *fakeSender) SendFrame(iface Interface, frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentFrame{iface: iface, frame: frame})
	return nil
}

func TestARPProber(t *testing.T) {
	links := fakeLinks{
		"eth3": {Name: "eth3", Index: 3, HardwareAddr: localMAC},
	}
	sender := &fakeSender{}
	p := NewARPProber(hivetest.Logger(t), "sw1", srcIP, targetIP, links, sender)
	ctx := context.Background()

	port := mactable.SwitchPort{Node: "sw1", PortID: "3", PortName: "eth3"}
	require.NoError(t, p.SendProbe(ctx, hostMAC, 20, port))
	require.Len(t, sender.sent, 1)
	require.Equal(t, "eth3", sender.sent[0].iface.Name)

	pkt := decode(t, sender.sent[0].frame)
	dot1q := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q)
	require.EqualValues(t, 20, dot1q.VLANIdentifier)

	// The port ID names the link when the port has no name.
	links["7"] = Interface{Name: "7", Index: 7, HardwareAddr: localMAC}
	require.NoError(t, p.SendProbe(ctx, hostMAC, 0, mactable.SwitchPort{Node: "sw1", PortID: "7"}))
	require.Len(t, sender.sent, 2)
	require.Equal(t, "7", sender.sent[1].iface.Name)

	err := p.SendProbe(ctx, hostMAC, 0, mactable.SwitchPort{Node: "sw2", PortID: "3", PortName: "eth3"})
	require.ErrorIs(t, err, ErrRemotePort)

	err = p.SendProbe(ctx, hostMAC, 0, mactable.SwitchPort{Node: "sw1", PortID: "9", PortName: "eth9"})
	require.Error(t, err)
	require.Len(t, sender.sent, 2)

	sender.err = errors.New("socket closed")
	err = p.SendProbe(ctx, hostMAC, 0, port)
	require.ErrorIs(t, err, sender.err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, p.SendProbe(cctx, hostMAC, 0, port), context.Canceled)
}

func TestARPProberSweep(t *testing.T) {
	links := fakeLinks{"eth3": {Name: "eth3", Index: 3, HardwareAddr: localMAC}}
	sender := &fakeSender{}
	p := NewARPProber(hivetest.Logger(t), "sw1", srcIP, netip.Addr{}, links, sender)

	cfg := mactable.Config{MACTableBridge: "vbr0", MACTableProbeWorkers: 1, MACTableShards: 1}
	tbl := mactable.NewTable(hivetest.Logger(t), cfg, nil, p, nil)
	defer tbl.Close()

	_, err := tbl.Learn(mactable.LearnRequest{
		MAC:     hostMAC,
		VLAN:    10,
		Port:    mactable.SwitchPort{Node: "sw1", PortID: "3", PortName: "eth3"},
		MapPath: mactable.InterfaceMapPath("vbr0", "if1"),
	})
	require.NoError(t, err)

	n, err := tbl.ProbeSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)

	arp := decode(t, sender.sent[0].frame).Layer(layers.LayerTypeARP).(*layers.ARP)
	require.EqualValues(t, OperationInverseRequest, arp.Operation)
	require.Equal(t, []byte(hostMAC[:]), arp.DstHwAddress)
}

func TestConfigAddresses(t *testing.T) {
	cfg := defaultConfig
	cfg.MACTableProbeNode = "sw1"
	src, target, err := cfg.addresses()
	require.NoError(t, err)
	require.True(t, src.IsUnspecified())
	require.False(t, target.IsValid(), "InARP probes without a target")

	cfg.MACTableProbeTargetIP = "0.0.0.0"
	_, _, err = cfg.addresses()
	require.Error(t, err)

	cfg.MACTableProbeTargetIP = "192.168.0.254"
	src, target, err = cfg.addresses()
	require.NoError(t, err)
	require.True(t, src.IsUnspecified())
	require.Equal(t, targetIP, target)

	cfg.MACTableProbeSourceIP = "fd00::1"
	_, _, err = cfg.addresses()
	require.Error(t, err)
}
