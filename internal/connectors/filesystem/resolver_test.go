package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{name: "file URI", uri: "file:///Users/test/documents/file.txt", want: "/Users/test/documents/file.txt"},
		{name: "file URI with spaces", uri: "file:///Users/test/my documents/file.txt", want: "/Users/test/my documents/file.txt"},
		{name: "bare path", uri: "/Users/test/documents/file.txt", want: "/Users/test/documents/file.txt"},
		{name: "relative path", uri: "notes/today.md", want: "notes/today.md"},
		{name: "home prefix", uri: "~/inbox/a.md", want: filepath.Join(home, "inbox/a.md")},
		{name: "tilde inside name", uri: "/tmp/~draft.md", want: "/tmp/~draft.md"},
		{name: "empty", uri: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LocalPath(tt.uri))
		})
	}
}
