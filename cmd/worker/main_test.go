package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEndpointFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://mainnet.helius-rpc.com/?api-key=secret", "helius"},
		{"https://example.solana-mainnet.quiknode.pro/abc/", "quiknode"},
		{"http://127.0.0.1:8899", "localhost"},
		{"https://rpc.example.com", "rpc.example.com"},
		{"://bad", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractEndpointFromURL(tt.url))
		})
	}
}
