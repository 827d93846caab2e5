package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelHashDeterminism(t *testing.T) {
	spec := starSpec()

	h1, err := ModelHash(spec)
	require.NoError(t, err)
	h2, err := ModelHash(starSpec())
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "ModelHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestModelHashChangesWithParameters(t *testing.T) {
	base := MustModelHash(starSpec())

	changed := starSpec()
	changed.Variables[1].CPT[0] = []float64{0.7, 0.3}
	assert.NotEqual(t, base, MustModelHash(changed), "different CPT must change the hash")

	renamed := starSpec()
	renamed.Name = "other"
	assert.NotEqual(t, base, MustModelHash(renamed), "different name must change the hash")
}

func TestModelHashRejectsNonFinite(t *testing.T) {
	spec := starSpec()
	spec.Variables[0].CPT[0][0] = posInf()

	_, err := ModelHash(spec)
	assert.Error(t, err)
}

func TestEvidenceHashIgnoresInsertionOrder(t *testing.T) {
	a := map[string]int{}
	a["X1"] = 1
	a["X2"] = 0
	b := map[string]int{}
	b["X2"] = 0
	b["X1"] = 1

	ha, err := EvidenceHash(a)
	require.NoError(t, err)
	hb, err := EvidenceHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b["X1"] = 0
	hc, err := EvidenceHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte("{}")
	assert.NotEqual(t, hashWithDomain(DomainModel, data), hashWithDomain(DomainEvidence, data))
}
