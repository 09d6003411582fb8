package scaler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    int
	}{
		{"lobby-{id}", "lobby-3", 3},
		{"lobby-{id}", "lobby-12", 12},
		{"lobby-{id}", "lobby-x", 0},
		{"lobby-{id}", "lobby-", 0},
		{"lobby-{id}", "survival-1", 0},
		{"srv-{id}-eu", "srv-7-eu", 7},
		{"srv-{id}-eu", "srv--eu", 0},
		{"srv-{id}-eu", "srv-7-us", 0},
		{"static", "static-1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractNumber(tt.pattern, tt.name))
		})
	}
}

func TestNamePattern(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		pattern string
		want    string
	}{
		{"default", "Lobby", "", "lobby-{id}"},
		{"explicit", "lobby", "hub-{id}-eu", "hub-{id}-eu"},
		{"missing placeholder", "lobby", "hub", "hub-{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := &models.GroupConfig{Name: tt.group}
			group.Server.Naming.Pattern = tt.pattern
			assert.Equal(t, tt.want, namePattern(group))
		})
	}
}

func TestNextName_TakesLowestFreeNumber(t *testing.T) {
	f := newFixture(t, lobbyGroup(), Config{})
	f.seed(t, "lobby-1", false, 0, 10)
	f.seed(t, "lobby-3", false, 0, 10)

	f.scaler.mu.Lock()
	defer f.scaler.mu.Unlock()

	assert.Equal(t, "lobby-2", f.scaler.nextNameLocked())

	f.scaler.reserved["lobby-2"] = struct{}{}
	assert.Equal(t, "lobby-4", f.scaler.nextNameLocked())
}

func TestNextName_UUIDIdentifier(t *testing.T) {
	group := lobbyGroup()
	group.Server.Naming = models.NamingSettings{Identifier: models.IdentifierUUID, Pattern: "game-{id}"}
	f := newFixture(t, group, Config{})

	f.scaler.mu.Lock()
	first := f.scaler.nextNameLocked()
	second := f.scaler.nextNameLocked()
	f.scaler.mu.Unlock()

	assert.True(t, strings.HasPrefix(first, "game-"))
	assert.NotContains(t, first, "{id}")
	assert.NotEqual(t, first, second)
}
