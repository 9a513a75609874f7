// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

//go:build linux

package learner

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/cilium/vbridge/pkg/mactable"
)

// inboundOnly drops frames sent by the host, which would otherwise be
// learned on the port they leave through.
var inboundOnly = []bpf.Instruction{
	bpf.LoadExtension{Num: bpf.ExtType},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 1},
	bpf.RetConstant{Val: 0x40000},
	bpf.RetConstant{Val: 0},
}

type packetSource struct {
	tp *afpacket.TPacket
}

func openPacketSource(name string) (frameSource, error) {
	filter, err := bpf.Assemble(inboundOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble capture filter: %w", err)
	}
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(name),
		afpacket.OptPollTimeout(pollTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket on %s: %w", name, err)
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("failed to attach capture filter on %s: %w", name, err)
	}
	return &packetSource{tp: tp}, nil
}

func (s *packetSource) ReadFrame() ([]byte, mactable.VlanID, error) {
	data, ci, err := s.tp.ZeroCopyReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, 0, errPollTimeout
	}
	if err != nil {
		return nil, 0, err
	}
	var stripped mactable.VlanID
	for _, aux := range ci.AncillaryData {
		if v, ok := aux.(afpacket.AncillaryVLAN); ok {
			stripped = mactable.VlanID(v.VLAN)
		}
	}
	return data, stripped, nil
}

func (s *packetSource) Close() error {
	s.tp.Close()
	return nil
}
