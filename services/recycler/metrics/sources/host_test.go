// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost_Names(t *testing.T) {
	ms := Host("")

	names := make([]string, 0, len(ms))
	for _, m := range ms {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{CPUUtilization, MemoryUtilization, DiskUtilization, Load1}, names)
}

func TestHost_MemoryAndDiskReadable(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host metrics are exercised on linux only")
	}
	ms := Host("/")

	for _, m := range ms[1:3] {
		v, err := m.Value(context.Background())
		require.NoError(t, err, m.Name())
		assert.GreaterOrEqual(t, v, 0.0, m.Name())
		assert.LessOrEqual(t, v, 100.0, m.Name())
	}
}

func TestHost_MissingDiskPathFails(t *testing.T) {
	ms := Host("/definitely/not/a/mount/point")

	_, err := ms[2].Value(context.Background())
	assert.Error(t, err)
}
