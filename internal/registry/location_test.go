package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindParent(t *testing.T) {
	assert.Equal(t, Kind(""), KindProvince.Parent())
	assert.Equal(t, KindProvince, KindDistrict.Parent())
	assert.Equal(t, KindCell, KindVillage.Parent())
	assert.Equal(t, Kind(""), Kind("HAMLET").Parent())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" village ")
	require.NoError(t, err)
	assert.Equal(t, KindVillage, k)

	_, err = ParseKind("hamlet")
	require.Error(t, err)
}

func TestValidateShapeSelfParent(t *testing.T) {
	id := int64(3)
	loc := Location{ID: id, Name: "Cell", Code: "C", Kind: KindCell, ParentID: &id}
	require.Error(t, loc.validateShape())
}
