// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package logger

// Captures log messages in memory so tests can assert on them.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type MemoryLogHook struct {
	mu       sync.Mutex
	messages []MemoryLogMessage
}

type MemoryLogMessage struct {
	Message string
	Level   logrus.Level
}

func NewMemoryLogHook() *MemoryLogHook {
	return &MemoryLogHook{}
}

func (h *MemoryLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *MemoryLogHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, MemoryLogMessage{
		Message: entry.Message,
		Level:   entry.Level,
	})
	return nil
}

// ConsumeMessages returns the captured messages and resets the hook.
func (h *MemoryLogHook) ConsumeMessages() []MemoryLogMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	messages := h.messages
	h.messages = nil
	return messages
}
