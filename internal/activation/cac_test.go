package activation

import (
    "crypto/ed25519"
    "crypto/rand"
    "testing"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/yzsoft/activation-server/internal/utils"
)

func signCapsule(t *testing.T, priv ed25519.PrivateKey, claims jwt.MapClaims) string {
    t.Helper()
    env, err := utils.SignCompact(claims, priv, utils.TypCAC, "k1")
    require.NoError(t, err)
    return env
}

func TestParseCapsuleFull(t *testing.T) {
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)

    env := signCapsule(t, priv, jwt.MapClaims{
        "jti":        "cac-full",
        "channel_id": "CH-1",
        "quota": map[string]interface{}{
            "max_activations": 10,
            "valid_from":      1_700_000_000,
            "valid_to":        1_800_000_000,
        },
        "scope": map[string]interface{}{
            "models":     []string{"CAM-X200", "CAM-Y100"},
            "max_per_sn": 2,
        },
        "policy": map[string]interface{}{"region": "eu"},
    })

    p, d := ParseCapsule(env, pub)
    require.Nil(t, d)
    assert.Equal(t, "cac-full", p.JTI)
    assert.Equal(t, "CH-1", p.ChannelCode)
    assert.Equal(t, int64(10), p.QuotaMax)
    require.NotNil(t, p.ValidFrom)
    assert.Equal(t, int64(1_700_000_000), *p.ValidFrom)
    require.NotNil(t, p.ValidTo)
    assert.Equal(t, int64(1_800_000_000), *p.ValidTo)
    assert.Equal(t, []string{"CAM-X200", "CAM-Y100"}, p.Scope.Models)
    assert.Equal(t, 2, p.Scope.MaxPerSN)
    assert.Equal(t, "eu", p.Policy["region"])

    raw, err := p.RawJSON()
    require.NoError(t, err)
    assert.Contains(t, raw, `"jti":"cac-full"`)
}

func TestParseCapsuleMinimal(t *testing.T) {
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)

    env := signCapsule(t, priv, jwt.MapClaims{
        "jti":        "cac-min",
        "channel_id": "CH-1",
        "quota":      map[string]interface{}{"max_activations": 1},
    })

    p, d := ParseCapsule(env, pub)
    require.Nil(t, d)
    assert.Nil(t, p.ValidFrom)
    assert.Nil(t, p.ValidTo)
    assert.Equal(t, 1, p.EffectiveMaxPerSN())
    assert.True(t, p.AllowsModel("anything"))
}

func TestParseCapsuleMissingFields(t *testing.T) {
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)

    cases := map[string]jwt.MapClaims{
        "no jti": {
            "channel_id": "CH-1",
            "quota":      map[string]interface{}{"max_activations": 1},
        },
        "no channel": {
            "jti":   "cac-x",
            "quota": map[string]interface{}{"max_activations": 1},
        },
        "no quota": {
            "jti":        "cac-x",
            "channel_id": "CH-1",
        },
        "zero quota": {
            "jti":        "cac-x",
            "channel_id": "CH-1",
            "quota":      map[string]interface{}{"max_activations": 0},
        },
        "negative quota": {
            "jti":        "cac-x",
            "channel_id": "CH-1",
            "quota":      map[string]interface{}{"max_activations": -3},
        },
    }
    for name, claims := range cases {
        t.Run(name, func(t *testing.T) {
            _, d := ParseCapsule(signCapsule(t, priv, claims), pub)
            require.NotNil(t, d)
            assert.Equal(t, CodeCACInvalid, d.Code)
        })
    }
}

func TestParseCapsuleWrongTyp(t *testing.T) {
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)

    env, err := utils.SignCompact(jwt.MapClaims{
        "jti":        "cac-x",
        "channel_id": "CH-1",
        "quota":      map[string]interface{}{"max_activations": 1},
    }, priv, utils.TypLicense, "k1")
    require.NoError(t, err)

    _, d := ParseCapsule(env, pub)
    require.NotNil(t, d)
    assert.Equal(t, CodeCACInvalid, d.Code)
}

func TestAllowsModel(t *testing.T) {
    p := &CapsulePayload{Scope: CapsuleScope{Models: []string{"A", "B"}}}
    assert.True(t, p.AllowsModel("A"))
    assert.True(t, p.AllowsModel("B"))
    assert.False(t, p.AllowsModel("C"))
}
