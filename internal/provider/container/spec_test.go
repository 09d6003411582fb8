package container

import (
	"testing"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/stretchr/testify/assert"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"512m", 512 << 20, true},
		{"512MB", 512 << 20, true},
		{"2g", 2 << 30, true},
		{"1024kb", 1 << 20, true},
		{"4096", 4096, true},
		{"", 0, false},
		{"lots", 0, false},
		{"-1g", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseMemory(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCPU(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"500m", 512, true},
		{"1000m", 1024, true},
		{"2", 2048, true},
		{"0.5", 512, true},
		{"", 0, false},
		{"0", 0, false},
		{"fast", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseCPU(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeImage(t *testing.T) {
	assert.Equal(t, "itzg/minecraft-server:latest", normalizeImage("itzg/minecraft-server"))
	assert.Equal(t, "itzg/minecraft-server:java17", normalizeImage(" itzg/minecraft-server:java17 "))
	assert.Equal(t, "registry:5000/mc:latest", normalizeImage("registry:5000/mc"))

	repo, tag := splitImage("registry:5000/mc:1.20")
	assert.Equal(t, "registry:5000/mc", repo)
	assert.Equal(t, "1.20", tag)
}

func TestResolveAddress(t *testing.T) {
	assert.Equal(t, "localhost", resolveAddress(nil))
	assert.Equal(t, "10.0.0.5", resolveAddress(&docker.Container{
		NetworkSettings: &docker.NetworkSettings{IPAddress: "10.0.0.5"},
	}))
	assert.Equal(t, "172.20.0.3", resolveAddress(&docker.Container{
		NetworkSettings: &docker.NetworkSettings{
			IPAddress: "10.0.0.5",
			Networks:  map[string]docker.ContainerNetwork{"fleet": {IPAddress: "172.20.0.3"}},
		},
	}))
}

func TestDynamicFromLabels(t *testing.T) {
	assert.True(t, dynamicFromLabels(map[string]string{LabelDynamic: "true"}, models.ServerTypeStatic))
	assert.False(t, dynamicFromLabels(map[string]string{LabelDynamic: "false"}, models.ServerTypeDynamic))
	assert.True(t, dynamicFromLabels(nil, models.ServerTypeDynamic))
	assert.False(t, dynamicFromLabels(map[string]string{LabelDynamic: "maybe"}, models.ServerTypeStatic))
}

func TestInUse(t *testing.T) {
	names := []string{"/fleet-lobby-1", "/fleet-survival-2"}
	assert.True(t, inUse("lobby-1#abcd", names))
	assert.False(t, inUse("lobby-2#abcd", names))
}
