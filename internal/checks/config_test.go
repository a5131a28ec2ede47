package checks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

const sampleChecks = `
checks:
  - name: check-facilitator
    targets:
      - kind: facilitator-operator-eth
        probe: native
        address: ${TEST_OPERATOR_ADDRESS}
        min: "0.5"
        max: "2"
        refill: refill-native
      - kind: facilitator-contract-tokens
        probe: erc20
        address: "0xfac"
        min: "1000"
        max: "5000"
        refill: refill-token
  - name: check-credits
    targets:
      - kind: bundler-turbo-credits
        probe: turbo
        address: "ar-wallet"
        min: "100"
        max: "500"
      - kind: bundler-operator-ar
        probe: arweave
        address: "ar-operator"
        min: "5"
        max: "20"
        refill: refill-asset
`

func TestLoadChecks(t *testing.T) {
	t.Setenv("TEST_OPERATOR_ADDRESS", "0xoperator")
	path := filepath.Join(t.TempDir(), "checks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleChecks), 0o600))

	defs, err := LoadChecks(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	first := defs[0].Targets[0]
	assert.Equal(t, "0xoperator", first.Address)
	assert.Equal(t, "0.5", first.Policy.Min.String())
	assert.Equal(t, "2", first.Policy.Max.String())
	assert.Equal(t, core.RefillNative, first.Refill)
	assert.Empty(t, defs[1].Targets[0].Refill)

	ar := defs[1].Targets[1]
	assert.Equal(t, ProbeArweave, ar.Probe)
	assert.Equal(t, core.RefillAsset, ar.Refill)
}

func TestLoadChecks_MissingFile(t *testing.T) {
	_, err := LoadChecks(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, core.HasCode(err, core.ErrCodeConfiguration))
}

func TestParseChecks_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"min above max", `
checks:
  - name: c
    targets:
      - {kind: k, probe: native, address: a, min: "10", max: "5"}
`},
		{"bad number", `
checks:
  - name: c
    targets:
      - {kind: k, probe: native, address: a, min: "ten", max: "5"}
`},
		{"unknown probe", `
checks:
  - name: c
    targets:
      - {kind: k, probe: solana, address: a, min: "1", max: "5"}
`},
		{"unknown refill", `
checks:
  - name: c
    targets:
      - {kind: k, probe: native, address: a, min: "1", max: "5", refill: refill-gold}
`},
		{"duplicate kind", `
checks:
  - name: c
    targets:
      - {kind: k, probe: native, address: a, min: "1", max: "5"}
  - name: d
    targets:
      - {kind: k, probe: native, address: b, min: "1", max: "5"}
`},
		{"duplicate name", `
checks:
  - name: c
  - name: c
`},
		{"empty", `checks: []`},
		{"not yaml", `checks: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChecks([]byte(tt.doc))
			assert.True(t, core.HasCode(err, core.ErrCodeConfiguration), "error = %v", err)
		})
	}
}
