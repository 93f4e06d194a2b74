//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishTarget(t *testing.T) {
	assert.Equal(t, "pumpcast.master_daily", publishTarget("pumpcast.master_daily", "master_daily"))
	assert.Equal(t, "pumpcast.master_october", publishTarget("pumpcast.master_daily", "master_october"))
	assert.Equal(t, "master_model_ready", publishTarget("gold_daily", "master_model_ready"))
}
