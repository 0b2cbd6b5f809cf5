package queenroot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cohesix/queenroot/internal/ticket"
)

func TestDefaultConfigIsSelfConsistent(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotZero(t, cfg.MMIOBase)
	assert.NotZero(t, cfg.UARTBase)
	assert.Less(t, cfg.DMAPoolBase, cfg.DMAPoolBase+cfg.DMAPoolSize)
	assert.NotEmpty(t, cfg.TCPAddr)
	assert.Greater(t, cfg.TCPIdleTimeout.Seconds(), 0.0)
	assert.Greater(t, cfg.LoginRatePerSecond, 0.0)
	assert.Greater(t, cfg.DefaultCacheLogCount, 0)
	assert.Greater(t, cfg.InboundQueueCapacity, 0)
}

func TestTicketLimitsConfigResolve(t *testing.T) {
	c := TicketLimitsConfig{
		MaxScopes:        4,
		MaxScopePathLen:  128,
		MaxScopeRatePerS: 50,
		BandwidthBytes:   1024,
		CursorResumes:    2,
		CursorAdvances:   3,
	}

	assert.Equal(t, ticket.Limits{
		MaxScopes:        4,
		MaxScopePathLen:  128,
		MaxScopeRatePerS: 50,
		BandwidthBytes:   1024,
		CursorResumes:    2,
		CursorAdvances:   3,
	}, c.Resolve())
}
