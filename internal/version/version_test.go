package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentIsPlainSemver(t *testing.T) {
	assert.Regexp(t, `^[0-9]+\.[0-9]+\.[0-9]+$`, Current, "release tags add the v prefix, not Current")
}
