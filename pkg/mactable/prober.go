// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"context"

	"github.com/cilium/vbridge/pkg/types"
)

// Prober sends a request which makes the host owning mac on vlan reveal its
// IP address. Replies are learned through the regular learning path.
type Prober interface {
	SendProbe(ctx context.Context, mac types.MACAddr, vlan VlanID, port SwitchPort) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, mac types.MACAddr, vlan VlanID, port SwitchPort) error

func (fn ProberFunc) SendProbe(ctx context.Context, mac types.MACAddr, vlan VlanID, port SwitchPort) error {
	return fn(ctx, mac, vlan, port)
}
