// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithLevel(t *testing.T) {
	level := "debug"
	err := Init(&LogFlags{LogLevel: &level})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
}

func TestInitUnknownLevelFails(t *testing.T) {
	level := "chatty"
	err := Init(&LogFlags{LogLevel: &level})
	assert.ErrorContains(t, err, "log-level")
}

func TestInitBestEffortFallsBack(t *testing.T) {
	color := "sometimes"
	InitBestEffort(&LogFlags{LogColor: &color})

	require.NotNil(t, Log)
	assert.Equal(t, defaultLogLevel, Log.GetLevel())
}

func TestMemoryLogHookCapturesMessages(t *testing.T) {
	err := Init(nil)
	require.NoError(t, err)

	hook := NewMemoryLogHook()
	Log.AddHook(hook)

	Log.Info("first message")
	Log.Warn("second message")

	messages := hook.ConsumeMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "first message", messages[0].Message)
	assert.Equal(t, logrus.InfoLevel, messages[0].Level)
	assert.Equal(t, logrus.WarnLevel, messages[1].Level)

	assert.Empty(t, hook.ConsumeMessages())
}
