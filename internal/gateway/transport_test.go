package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveOrigin(t *testing.T) {
	tests := []struct {
		rawURL  string
		want    string
		wantErr bool
	}{
		{"ws://localhost:18789", "http://localhost:18789", false},
		{"wss://gateway.example.com", "https://gateway.example.com", false},
		{"wss://gateway.example.com:8443/socket", "https://gateway.example.com:8443", false},
		{"http://localhost", "", true},
		{"ftp://host", "", true},
		{"ws://", "", true},
		{"://bad", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.rawURL, func(t *testing.T) {
			got, err := DeriveOrigin(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
