package utils

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"phi": 1, "U": 2, "nuTilda": 3, "p": 4}
	assert.Equal(t, SortedKeys(m), []string{"U", "nuTilda", "p", "phi"})
	assert.Equal(t, SortedKeys(map[string]int{}), []string{})
}
