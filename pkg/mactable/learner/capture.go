// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package learner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cilium/hive/cell"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/time"
)

// errPollTimeout is returned by frame sources when no frame arrived within
// the poll interval.
var errPollTimeout = errors.New("poll timeout")

const pollTimeout = 500 * time.Millisecond

// frameSource yields frames received on a link. A returned frame is valid
// until the next call.
type frameSource interface {
	ReadFrame() (frame []byte, stripped mactable.VlanID, err error)
	Close() error
}

// captureBackoff spaces reopening a failed capture. The interval doubles
// up to Cap and starts over once the link could be opened.
var captureBackoff = wait.Backoff{
	Duration: 1 * time.Second,
	Factor:   2,
	Jitter:   0.1,
	Steps:    10,
	Cap:      5 * time.Minute,
}

// capture learns from the frames received on one link of the local switch.
type capture struct {
	logger  *slog.Logger
	learner *Learner
	port    mactable.SwitchPort
	open    func(name string) (frameSource, error)
}

func (c *capture) run(ctx context.Context, health cell.Health) error {
	backoff := captureBackoff
	for {
		opened, err := c.capture(ctx, health)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			backoff = captureBackoff
		}
		c.logger.Warn("Frame capture failed, retrying",
			logfields.Interface, c.port.PortName,
			logfields.Error, err,
		)
		health.Degraded("Frame capture failed", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff.Step()):
		}
	}
}

// capture reads and learns frames until ctx is done or reading fails.
// opened reports whether the link could be opened.
func (c *capture) capture(ctx context.Context, health cell.Health) (opened bool, err error) {
	src, err := c.open(c.port.PortName)
	if err != nil {
		return false, err
	}
	defer src.Close()

	health.OK("Capturing frames on " + c.port.PortName)
	d := NewDissector()
	for ctx.Err() == nil {
		frame, stripped, err := src.ReadFrame()
		if errors.Is(err, errPollTimeout) {
			continue
		}
		if err != nil {
			return true, err
		}
		if _, err := c.learner.HandleFrame(d, c.port, frame, stripped); err != nil {
			c.logger.Debug("Frame not learned",
				logfields.Interface, c.port.PortName,
				logfields.Error, err,
			)
		}
	}
	return true, ctx.Err()
}
