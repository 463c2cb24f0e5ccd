package activation

import (
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestLoadCustodianGeneratesAndReloads(t *testing.T) {
    dir := t.TempDir()
    privPath := filepath.Join(dir, "keys", "platform.pem")
    pubPath := filepath.Join(dir, "keys", "platform.pub.pem")

    first, err := LoadCustodian(privPath, pubPath)
    require.NoError(t, err)
    require.NotEmpty(t, first.PublicPEM())

    // A second load must come back with the same key material, so
    // licenses issued across restarts verify under one key.
    second, err := LoadCustodian(privPath, pubPath)
    require.NoError(t, err)
    assert.Equal(t, first.PublicKey(), second.PublicKey())
    assert.Equal(t, first.PublicPEM(), second.PublicPEM())
}

func TestEphemeralCustodiansAreDistinct(t *testing.T) {
    a, err := NewEphemeralCustodian()
    require.NoError(t, err)
    b, err := NewEphemeralCustodian()
    require.NoError(t, err)
    assert.NotEqual(t, a.PublicKey(), b.PublicKey())
}
