package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_BadConnString(t *testing.T) {
	_, err := Connect(context.Background(), "::not a dsn::", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse config")
}

func TestIdentifier_Sanitize(t *testing.T) {
	assert.Equal(t, `"master_daily"`, identifier("master_daily").Sanitize())
	assert.Equal(t, `"pumpcast"."master_daily"`, identifier("pumpcast.master_daily").Sanitize())
}
