// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscardByDefault(t *testing.T) {
	logger := WithContext("pkg", "test")
	assert.NotPanics(t, func() {
		logger.Info("dropped")
	})
}

func TestSwapHandlerAffectsEarlyLoggers(t *testing.T) {
	// logger created before the handler is configured
	logger := WithContext("pkg", "early")

	var buf bytes.Buffer
	SetHandler(NewTextHandler(&buf, slog.LevelInfo))
	defer SetHandler(discardHandler{})

	logger.Info("hello", "k", "v")
	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "pkg=early")
	assert.Contains(t, out, "k=v")
}

func TestSetHandlerAcceptsAnyHandlerType(t *testing.T) {
	defer SetHandler(discardHandler{})

	var buf bytes.Buffer
	assert.NotPanics(t, func() {
		SetHandler(NewTextHandler(&buf, slog.LevelInfo))
		SetHandler(NewJSONHandler(&buf, slog.LevelInfo))
		SetHandler(discardHandler{})
	})
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, VerbosityToLevel(0))
	assert.Equal(t, slog.LevelError, VerbosityToLevel(1))
	assert.Equal(t, slog.LevelWarn, VerbosityToLevel(2))
	assert.Equal(t, slog.LevelInfo, VerbosityToLevel(3))
	assert.Equal(t, slog.LevelDebug, VerbosityToLevel(4))
}
