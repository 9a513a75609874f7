// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

//go:build !linux

package probe

import (
	"errors"
)

var errUnsupported = errors.New("raw packet sockets are not supported")

type packetSender struct{}

func newPacketSender() *packetSender {
	return &packetSender{}
}

func (s *packetSender) SendFrame(Interface, []byte) error {
	return errUnsupported
}

func (s *packetSender) Close() error {
	return nil
}
