// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package agent

import (
	"context"
	"time"
)

// RaceForTest exposes race for tests.
func RaceForTest(ctx context.Context, d time.Duration, fn func(context.Context) (string, error)) (string, error) {
	return race(ctx, d, fn)
}

// ClipForTest exposes clip for tests.
var ClipForTest = clip
