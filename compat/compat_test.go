package compat

import (
	"testing"

	"github.com/shipper/shippy/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		info    network.SystemInfo
		client  string
		wantErr error
	}{
		{
			name:   "compatible",
			info:   network.SystemInfo{Version: "2.3.1", ShippyCompatVersion: "1.5.0"},
			client: "1.6.0",
		},
		{
			name:   "equal versions",
			info:   network.SystemInfo{Version: "2.0.0", ShippyCompatVersion: "1.6.0"},
			client: "1.6.0",
		},
		{
			name:   "no compat version",
			info:   network.SystemInfo{Version: "2.0.0"},
			client: "0.1.0",
		},
		{
			name:    "server outdated",
			info:    network.SystemInfo{Version: "1.9.9", ShippyCompatVersion: "1.0.0"},
			client:  "1.6.0",
			wantErr: ErrServerOutdated,
		},
		{
			name:    "client outdated",
			info:    network.SystemInfo{Version: "2.1.0", ShippyCompatVersion: "1.7.0"},
			client:  "1.6.0",
			wantErr: ErrClientOutdated,
		},
		{
			name:    "prerelease is older than release",
			info:    network.SystemInfo{Version: "2.0.0-rc.1"},
			client:  "1.6.0",
			wantErr: ErrServerOutdated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.info, tt.client, MinServerVersion)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheck_InvalidVersion(t *testing.T) {
	assert.Error(t, Check(network.SystemInfo{Version: "latest"}, "1.0.0", MinServerVersion))
	assert.Error(t, Check(network.SystemInfo{Version: ""}, "1.0.0", MinServerVersion))
	assert.Error(t, Check(network.SystemInfo{Version: "2.0.0", ShippyCompatVersion: "x"}, "1.0.0", MinServerVersion))
}

func TestVersionError_Error(t *testing.T) {
	err := Check(network.SystemInfo{Version: "1.2.0"}, "1.0.0", MinServerVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reported server version: \t1.2.0")
	assert.Contains(t, err.Error(), "Compatible version: \t\t2.0.0")
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "1.2.3", want: "1.2.3"},
		{in: "v1.2.3", want: "1.2.3"},
		{in: "1.2", want: "1.2.0"},
		{in: "2", want: "2.0.0"},
		{in: "1.2-beta.1", want: "1.2.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
