// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// package time is a wrapper for the stdlib time library that aliases most
// underlying types, but allows overrides for testing purposes.
package time

import (
	"time"
)

const (
	RFC3339 = time.RFC3339

	Nanosecond  = time.Nanosecond
	Microsecond = time.Microsecond
	Millisecond = time.Millisecond
	Second      = time.Second
	Minute      = time.Minute
	Hour        = time.Hour
)

var (
	ParseDuration = time.ParseDuration
	Since         = time.Since
	Unix          = time.Unix
	After         = time.After
	NewTicker     = time.NewTicker
)

type (
	Duration = time.Duration
	Ticker   = time.Ticker
	Time     = time.Time
	Timer    = time.Timer
)

// Now returns the current time. It is a variable so that tests which need a
// deterministic clock can replace it.
var Now = time.Now
