package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		opt        []Option
		wantPrefix string
	}{
		{
			name: "no-prefix",
		},
		{
			name:       "with-prefix",
			opt:        []Option{WithPrefix("st")},
			wantPrefix: "st_",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			id, err := NewID(tt.opt...)
			require.NoError(err)
			require.NotEmpty(id)
			if tt.wantPrefix != "" {
				assert.True(strings.HasPrefix(id, tt.wantPrefix))
			}
			again, err := NewID(tt.opt...)
			require.NoError(err)
			assert.NotEqual(id, again)
		})
	}
}
