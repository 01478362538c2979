package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupNetwork(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		key         string
		wantKey     string
		wantChainID int64
		wantOK      bool
	}{
		{name: "canonical key", key: "ethereum", wantKey: "ethereum", wantChainID: 1, wantOK: true},
		{name: "alias", key: "matic", wantKey: "polygon", wantChainID: 137, wantOK: true},
		{name: "mixed case", key: "MainNet", wantKey: "ethereum", wantChainID: 1, wantOK: true},
		{name: "surrounding whitespace", key: " avax ", wantKey: "avalanche", wantChainID: 43114, wantOK: true},
		{name: "unknown", key: "dogecoin", wantOK: false},
		{name: "empty", key: "", wantOK: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			network, ok := LookupNetwork(tc.key)
			require.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantKey, network.Key)
				assert.Equal(t, tc.wantChainID, network.ChainID)
				assert.NotEmpty(t, network.DisplayName)
				assert.NotEmpty(t, network.Slug)
			}
		})
	}
}

func TestSupportedNetworksSorted(t *testing.T) {
	t.Parallel()

	want := []string{"arbitrum", "avalanche", "base", "ethereum", "optimism", "polygon", "sepolia"}
	assert.Equal(t, want, SupportedNetworks())
}
