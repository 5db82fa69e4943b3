package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"sorted and deduped", []string{"work", "idea", "work"}, []string{"idea", "work"}},
		{"blank dropped", []string{"", "  ", "x"}, []string{"x"}},
		{"commas replaced", []string{"a,b"}, []string{"a b"}},
		{"nfc", []string{"café", "café"}, []string{"café"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTags(tt.in))
		})
	}
}

func TestSameTags(t *testing.T) {
	assert.True(t, SameTags([]string{"b", "a"}, []string{"a", "b", "a"}))
	assert.True(t, SameTags(nil, []string{}))
	assert.False(t, SameTags([]string{"a"}, []string{"a", "b"}))
}

func TestNormalizeTime(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2024, 3, 1, 10, 0, 0, 123456789, loc)
	got := NormalizeTime(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
	assert.True(t, NormalizeTime(time.Time{}).IsZero())
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("property Tags missing")
	err := fmt.Errorf("executing: %w", &SyncError{
		Key:   "Work/Notes",
		Op:    "update properties",
		Kind:  ErrValidation,
		Field: "Tags",
		Err:   cause,
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, "validation", KindName(err))
	assert.Contains(t, err.Error(), `field "Tags"`)
	assert.Contains(t, err.Error(), "Work/Notes")

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Tags", se.Field)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "unknown", KindName(errors.New("x")))
	assert.Equal(t, "remote_unavailable", KindName(fmt.Errorf("load: %w", ErrRemoteUnavailable)))
	assert.Equal(t, "local_input", KindName(ErrLocalInput))
}

func TestPlanTagsOnly(t *testing.T) {
	p := Plan{Action: ActionUpdate, Diff: Diff{TagsChanged: true}}
	assert.True(t, p.TagsOnly())
	p.Diff.NeedsReupload = true
	assert.False(t, p.TagsOnly())
	assert.Equal(t, "update", p.Action.String())
}

func TestRemoteRecordClone(t *testing.T) {
	r := &RemoteRecord{ID: "1", Tags: []string{"a"}}
	c := r.Clone()
	c.Tags[0] = "b"
	assert.Equal(t, "a", r.Tags[0])
	assert.Nil(t, (*RemoteRecord)(nil).Clone())
}
