package xregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/", false},
		{"/a", false},
		{"/a/b/c", false},
		{"/节点/子", false},
		{"", true},
		{"a", true},
		{"a/b", true},
		{"/a/", true},
		{"/a//b", true},
		{"//", true},
		{"/\xff", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParent(t *testing.T) {
	assert.Equal(t, "/a/b", Parent("/a/b/c"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/", Parent("/"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/a/b", Join("/a", "b"))
	assert.Equal(t, "/b", Join("/", "b"))
	assert.Equal(t, "/a/b/c", Join("/a", "b", "c"))
	assert.Equal(t, "/", Join("/"))
}

func TestChildSegments(t *testing.T) {
	got := ChildSegments("/a", []string{"/a/b", "/a/b/c", "/a/d", "/ab/x", "/a"})
	assert.ElementsMatch(t, []string{"b", "d"}, got)

	got = ChildSegments("/", []string{"/a/b", "/c"})
	assert.ElementsMatch(t, []string{"a", "c"}, got)

	assert.Empty(t, ChildSegments("/x", nil))
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		q     string
		scope Scope
		p     string
		want  bool
	}{
		{"path only exact", "/a", ScopePathOnly, "/a", true},
		{"path only child", "/a", ScopePathOnly, "/a/b", false},
		{"subtree self", "/a", ScopeSubtree, "/a", true},
		{"subtree descendant", "/a", ScopeSubtree, "/a/b/c", true},
		{"subtree sibling prefix", "/a", ScopeSubtree, "/ab", false},
		{"root subtree", "/", ScopeSubtree, "/anything/at/all", true},
		{"root path only", "/", ScopePathOnly, "/a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.q, tt.scope, tt.p))
		})
	}
}
