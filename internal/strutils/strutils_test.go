package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrListContains(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	scopes := []string{"openid", "profile", "email"}
	assert.True(StrListContains(scopes, "openid"))
	assert.False(StrListContains(scopes, "groups"))
	assert.False(StrListContains(nil, "openid"))
	assert.False(StrListContains([]string{}, ""))
}

func TestRemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		items           []string
		caseInsensitive bool
		want            []string
	}{
		{
			name:  "empty",
			items: []string{},
			want:  []string{},
		},
		{
			name:  "keeps-first-occurrence",
			items: []string{"openid", "profile", "openid", "email"},
			want:  []string{"openid", "profile", "email"},
		},
		{
			name:  "case-sensitive-by-default",
			items: []string{"OpenID", "openid"},
			want:  []string{"OpenID", "openid"},
		},
		{
			name:            "case-insensitive",
			items:           []string{"OpenID", "openid", "profile"},
			caseInsensitive: true,
			want:            []string{"OpenID", "profile"},
		},
		{
			name:  "drops-blank-entries",
			items: []string{"", "  ", "profile", ""},
			want:  []string{"profile"},
		},
		{
			name:  "whitespace-only-differences-collapse",
			items: []string{"email ", " email", "email"},
			want:  []string{"email "},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			assert.Equal(tt.want, RemoveDuplicatesStable(tt.items, tt.caseInsensitive))
		})
	}
}
