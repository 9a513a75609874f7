// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package probe

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/arp"
	"github.com/mdlayher/ethernet"

	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/types"
)

// OperationInverseRequest is the InARP request of RFC 2390. It asks the
// owner of the target hardware address for its protocol address, which the
// owner returns as sender address of an InARP reply.
const OperationInverseRequest arp.Operation = 8

// BuildARPProbe returns an ARP frame addressed to dst only, tagged with vlan
// unless vlan is untagged. If target is valid the frame is a request for
// target, otherwise an InARP request asking dst for its own address.
func BuildARPProbe(src types.MACAddr, srcIP netip.Addr, dst types.MACAddr, vlan mactable.VlanID, target netip.Addr) ([]byte, error) {
	if err := vlan.Validate(); err != nil {
		return nil, err
	}
	if !dst.IsUnicast() {
		return nil, fmt.Errorf("probe destination %s: %w", dst, mactable.ErrInvalidMAC)
	}

	op := arp.OperationRequest
	if !target.IsValid() {
		op, target = OperationInverseRequest, netip.IPv4Unspecified()
	}
	pkt, err := arp.NewPacket(op, src.HardwareAddr(), srcIP, dst.HardwareAddr(), target)
	if err != nil {
		return nil, fmt.Errorf("failed to craft ARP probe: %w", err)
	}
	payload, err := pkt.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ARP probe: %w", err)
	}

	f := &ethernet.Frame{
		Destination: dst.HardwareAddr(),
		Source:      src.HardwareAddr(),
		EtherType:   ethernet.EtherTypeARP,
		Payload:     payload,
	}
	if vlan != mactable.VlanUntagged {
		f.VLAN = &ethernet.VLAN{ID: uint16(vlan)}
	}
	return f.MarshalBinary()
}
