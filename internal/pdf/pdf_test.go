package pdf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageCount_MissingFile(t *testing.T) {
	_, err := PageCount(filepath.Join(t.TempDir(), "absent.pdf"))
	assert.Error(t, err)
}
