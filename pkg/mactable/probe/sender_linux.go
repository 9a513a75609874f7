// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

//go:build linux

package probe

import (
	"fmt"

	"github.com/google/gopacket/afpacket"

	"github.com/cilium/vbridge/pkg/lock"
)

// packetSender writes frames through one AF_PACKET socket per link.
type packetSender struct {
	mu      lock.Mutex
	handles map[string]*afpacket.TPacket
}

func newPacketSender() *packetSender {
	return &packetSender{handles: map[string]*afpacket.TPacket{}}
}

func (s *packetSender) handle(name string) (*afpacket.TPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[name]; ok {
		return h, nil
	}
	h, err := afpacket.NewTPacket(afpacket.OptInterface(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket on %s: %w", name, err)
	}
	s.handles[name] = h
	return h, nil
}

func (s *packetSender) SendFrame(iface Interface, frame []byte) error {
	h, err := s.handle(iface.Name)
	if err != nil {
		return err
	}
	if err := h.WritePacketData(frame); err != nil {
		// The link may have been recreated, reopen on the next probe.
		s.mu.Lock()
		if s.handles[iface.Name] == h {
			delete(s.handles, iface.Name)
			h.Close()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *packetSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, h := range s.handles {
		h.Close()
		delete(s.handles, name)
	}
	return nil
}
