package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_Bootstrap(t *testing.T) {
	log := Get()
	assert.NotNil(t, log)

	assert.NotPanics(t, func() {
		log.Info("test message")
		log.Error("test error")
	})
}

func TestNamed_ReturnsChildLogger(t *testing.T) {
	log := Named("worker")
	assert.NotNil(t, log)
}
