package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	prev := map[string]string{"a.go": "h1", "b.go": "h2", "c.go": "h3"}
	curr := map[string]string{"a.go": "h1", "b.go": "h2x", "d.go": "h4"}

	tests := []struct {
		name  string
		force bool
		want  ChangeSet
	}{
		{
			name: "by hash",
			want: ChangeSet{
				Added:     []string{"d.go"},
				Modified:  []string{"b.go"},
				Removed:   []string{"c.go"},
				Unchanged: []string{"a.go"},
			},
		},
		{
			name:  "force marks every common path modified",
			force: true,
			want: ChangeSet{
				Added:    []string{"d.go"},
				Modified: []string{"a.go", "b.go"},
				Removed:  []string{"c.go"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(prev, curr, tt.force))
		})
	}
}

func TestDiff_EmptyPrevious(t *testing.T) {
	// Given no prior state
	cs := Diff(nil, map[string]string{"z.go": "1", "a.go": "2"}, false)

	// Then everything is added, sorted
	assert.Equal(t, []string{"a.go", "z.go"}, cs.Added)
	assert.False(t, cs.Empty())
}

func TestDiff_Identical(t *testing.T) {
	snap := map[string]string{"a.go": "1"}
	cs := Diff(snap, snap, false)

	assert.True(t, cs.Empty())
	assert.Equal(t, []string{"a.go"}, cs.Unchanged)
}

func TestChangeSet_Limit(t *testing.T) {
	cs := ChangeSet{
		Added:    []string{"a", "b"},
		Modified: []string{"c", "d"},
		Removed:  []string{"e"},
	}

	t.Run("no limit", func(t *testing.T) {
		got, deferred := cs.Limit(0)
		assert.Equal(t, cs, got)
		assert.Nil(t, deferred)
	})

	t.Run("within limit", func(t *testing.T) {
		got, deferred := cs.Limit(4)
		assert.Equal(t, cs, got)
		assert.Nil(t, deferred)
	})

	t.Run("additions first", func(t *testing.T) {
		got, deferred := cs.Limit(3)
		assert.Equal(t, []string{"a", "b"}, got.Added)
		assert.Equal(t, []string{"c"}, got.Modified)
		assert.Equal(t, []string{"e"}, got.Removed)
		assert.Equal(t, []string{"d"}, deferred)
	})

	t.Run("removals are never deferred", func(t *testing.T) {
		got, deferred := cs.Limit(1)
		assert.Equal(t, []string{"a"}, got.Added)
		assert.Empty(t, got.Modified)
		assert.Equal(t, []string{"e"}, got.Removed)
		assert.Equal(t, []string{"b", "c", "d"}, deferred)
	})
}

func TestChangeSet_Pending(t *testing.T) {
	cs := ChangeSet{Added: []string{"z"}, Modified: []string{"a"}}
	assert.Equal(t, []string{"a", "z"}, cs.Pending())
}

func TestChangeSet_Promote(t *testing.T) {
	cs := ChangeSet{
		Added:     []string{"new"},
		Modified:  []string{"m"},
		Unchanged: []string{"a", "b", "c"},
	}

	got := cs.Promote([]string{"c", "a", "gone"})

	assert.Equal(t, []string{"a", "c", "m"}, got.Modified)
	assert.Equal(t, []string{"b"}, got.Unchanged)
	assert.Equal(t, []string{"new"}, got.Added)
	assert.Equal(t, []string{"m"}, cs.Modified, "receiver is not modified")
}
