package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/inksync/internal/types"
)

func completeRemote() Remote {
	props := map[string]PropertyType{"Title": Title}
	for _, f := range Fields {
		props[f.Name] = f.Type
	}
	return Remote{Properties: props}
}

func TestCheck(t *testing.T) {
	r := completeRemote()
	require.NoError(t, Check(r))

	name, ok := r.TitleProperty()
	assert.True(t, ok)
	assert.Equal(t, "Title", name)
	assert.Empty(t, r.Missing())
}

func TestCheckMissingField(t *testing.T) {
	r := completeRemote()
	delete(r.Properties, TagsProperty)

	err := Check(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)

	var se *types.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, TagsProperty, se.Field)

	missing := r.Missing()
	require.Len(t, missing, 1)
	assert.Equal(t, TagsProperty, missing[0].Name)
}

func TestCheckWrongType(t *testing.T) {
	r := completeRemote()
	r.Properties[PagesProperty] = RichText

	var se *types.SyncError
	require.ErrorAs(t, Check(r), &se)
	assert.Equal(t, PagesProperty, se.Field)
	assert.Contains(t, se.Error(), "want number")
}

func TestCheckNoTitle(t *testing.T) {
	r := completeRemote()
	delete(r.Properties, "Title")

	var se *types.SyncError
	require.ErrorAs(t, Check(r), &se)
	assert.Equal(t, "title", se.Field)
}

func TestLookup(t *testing.T) {
	f, ok := Lookup(KeyProperty)
	require.True(t, ok)
	assert.Equal(t, Preserve, f.Policy)

	_, ok = Lookup("Nope")
	assert.False(t, ok)
	assert.Contains(t, Describe(), "overwrite")
}

func TestModifiedMillisField(t *testing.T) {
	f, ok := Lookup(ModifiedMsProperty)
	require.True(t, ok)
	assert.Equal(t, Number, f.Type)
	assert.Equal(t, Overwrite, f.Policy)

	r := completeRemote()
	delete(r.Properties, ModifiedMsProperty)
	var se *types.SyncError
	require.ErrorAs(t, Check(r), &se)
	assert.Equal(t, ModifiedMsProperty, se.Field)
	assert.Contains(t, Describe(), ModifiedMsProperty)
}
