package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime })

	assert.Equal(t, "mindframe dev (commit unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "v0.3.1", "abc1234", "2025-06-15T09:30:00Z"
	assert.Equal(t, "mindframe v0.3.1 (commit abc1234, built 2025-06-15T09:30:00Z)", String())
}
