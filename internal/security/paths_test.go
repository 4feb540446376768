package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	link := filepath.Join(safe, "link")
	require.NoError(t, os.Symlink(outside, link))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "report.html"), false},
		{"new nested file", filepath.Join(safe, "a", "b", "report.png"), false},
		{"dot dot", filepath.Join(safe, "..", "report.html"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlink", filepath.Join(link, "report.html"), true},
		{"symlink itself", link, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "mindframe-report.html")))
	assert.NoError(t, ValidateOutputPath("metrics.html"))
	assert.Error(t, ValidateOutputPath("/etc/mindframe.html"))
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"user-42":          "user-42",
		"../../etc/passwd": "etc_passwd",
		"a b  c":           "a_b_c",
		"...":              "unknown",
		"émoji😀id":         "moji_id",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeFilename(in), "input %q", in)
	}
}
