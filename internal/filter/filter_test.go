package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cfdb/internal/apperr"
	"cfdb/internal/catalog"
)

func compile(t *testing.T, input interface{}) (*Node, map[string]bool) {
	t.Helper()
	node, touched, err := Compile(Parse(input), catalog.Default())
	require.NoError(t, err)
	return node, touched
}

func TestCompileNilMatchesAll(t *testing.T) {
	node, touched := compile(t, nil)
	require.True(t, node.MatchAll())
	require.Empty(t, touched)
}

func TestCompileEmptyInputsMatchAll(t *testing.T) {
	for _, input := range []interface{}{
		map[string]interface{}{},
		[]interface{}{},
	} {
		node, _ := compile(t, input)
		require.True(t, node.MatchAll())
	}
}

func TestCompileSingleEquality(t *testing.T) {
	node, touched := compile(t, map[string]interface{}{"filename": "a.bam"})
	require.Equal(t, OpAnd, node.Op)
	require.Len(t, node.Children, 1)
	eq := node.Children[0]
	require.Equal(t, OpEq, eq.Op)
	require.Equal(t, "filename", eq.Path)
	require.Equal(t, "a.bam", eq.Value)
	require.Empty(t, touched)
}

func TestCompileMappingIsAnd(t *testing.T) {
	node, _ := compile(t, map[string]interface{}{
		"filename": "a.bam",
		"sha256":   "abc",
	})
	require.Equal(t, OpAnd, node.Op)
	require.Len(t, node.Children, 2)
	for _, c := range node.Children {
		require.Equal(t, OpEq, c.Op)
	}
}

func TestCompileSequenceIsOr(t *testing.T) {
	node, _ := compile(t, []interface{}{
		map[string]interface{}{"filename": "a.bam"},
		map[string]interface{}{"filename": "b.bam"},
	})
	require.Equal(t, OpOr, node.Op)
	require.Len(t, node.Children, 2)
}

func TestCompileScalarListIsOrOfEqualities(t *testing.T) {
	node, _ := compile(t, map[string]interface{}{
		"filename": []interface{}{"a.bam", "b.bam"},
	})
	require.Equal(t, OpAnd, node.Op)
	or := node.Children[0]
	require.Equal(t, OpOr, or.Op)
	require.Len(t, or.Children, 2)
	require.Equal(t, "filename", or.Children[0].Path)
	require.Equal(t, "a.bam", or.Children[0].Value)
	require.Equal(t, "b.bam", or.Children[1].Value)
}

func TestCompileFieldNamesTranslate(t *testing.T) {
	node, _ := compile(t, map[string]interface{}{"dbgapStudyId": "phs000123"})
	require.Equal(t, "dbgap_study_id", node.Children[0].Path)
}

func TestCompileNestedDCC(t *testing.T) {
	node, touched := compile(t, map[string]interface{}{
		"dcc": map[string]interface{}{"dccAbbreviation": "HuBMAP"},
	})
	require.Equal(t, OpAnd, node.Op)
	inner := node.Children[0]
	require.Equal(t, OpAnd, inner.Op)
	require.Equal(t, "dcc.dcc_abbreviation", inner.Children[0].Path)
	require.True(t, touched["dcc"])
}

func TestCompileDeepNestedAnatomy(t *testing.T) {
	node, touched := compile(t, map[string]interface{}{
		"collections": map[string]interface{}{
			"biosamples": map[string]interface{}{
				"anatomy": map[string]interface{}{"name": "lung"},
			},
		},
	})
	require.True(t, touched["collections"])
	require.True(t, touched["biosamples"])
	require.True(t, touched["anatomy"])

	eq := node
	for eq.Op != OpEq {
		require.NotEmpty(t, eq.Children)
		eq = eq.Children[0]
	}
	require.Equal(t, "collections.biosamples.anatomy.name", eq.Path)
	require.Equal(t, "lung", eq.Value)
}

func TestCompileUnknownFieldNamesFullPath(t *testing.T) {
	_, _, err := Compile(Parse(map[string]interface{}{
		"dcc": map[string]interface{}{"bogus": "x"},
	}), catalog.Default())
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.UnknownField))
	require.Contains(t, err.Error(), "dcc.bogus")
}

func TestCompileUnknownRootField(t *testing.T) {
	_, _, err := Compile(Parse(map[string]interface{}{"nope": 1}), catalog.Default())
	require.True(t, apperr.Is(err, apperr.UnknownField))
	require.Contains(t, err.Error(), `"nope"`)
}

func TestCompileSubfieldOfScalarIsUnknown(t *testing.T) {
	_, _, err := Compile(Parse(map[string]interface{}{
		"filename": map[string]interface{}{"inner": "x"},
	}), catalog.Default())
	require.True(t, apperr.Is(err, apperr.UnknownField))
	require.Contains(t, err.Error(), "filename.inner")
}

func TestCompileBareScalarRejected(t *testing.T) {
	_, _, err := Compile(Parse("loose"), catalog.Default())
	require.True(t, apperr.Is(err, apperr.BadRequest))
}

func TestCompileRelationshipScalarRejected(t *testing.T) {
	_, _, err := Compile(Parse(map[string]interface{}{"dcc": "HuBMAP"}), catalog.Default())
	require.True(t, apperr.Is(err, apperr.BadRequest))
}

// Same input must always produce the same tree, regardless of Go's map
// iteration order.
func TestCompileDeterministic(t *testing.T) {
	input := map[string]interface{}{
		"filename":   "a.bam",
		"sha256":     "abc",
		"md5":        "def",
		"submission": "hubmap",
	}
	first, _ := compile(t, input)
	for i := 0; i < 20; i++ {
		again, _ := compile(t, input)
		require.Equal(t, first, again)
	}
}

func TestCompileMixedAndOrKeepsLevels(t *testing.T) {
	node, _ := compile(t, map[string]interface{}{
		"filename":   []interface{}{"a.bam", "b.bam"},
		"submission": "hubmap",
	})
	// Top level is AND; the OR lives in its own child node.
	require.Equal(t, OpAnd, node.Op)
	require.Len(t, node.Children, 2)
	require.Equal(t, OpOr, node.Children[0].Op)
	require.Equal(t, OpEq, node.Children[1].Op)
}
