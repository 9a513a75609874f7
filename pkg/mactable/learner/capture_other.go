// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

//go:build !linux

package learner

import (
	"errors"
)

func openPacketSource(string) (frameSource, error) {
	return nil, errors.New("frame capture is not supported")
}
