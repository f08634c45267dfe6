package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "dev", Version())
	assert.Equal(t, "rclink dev (commit unknown, "+runtime.Version()+")", String())
}
