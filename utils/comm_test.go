package utils

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestWorldCommSerialDefault(t *testing.T) {
	// mask any launcher variables present in the test environment; empty
	// values do not parse and fall through to the defaults
	for _, v := range rankVars {
		t.Setenv(v, "")
	}
	for _, v := range sizeVars {
		t.Setenv(v, "")
	}
	comm := WorldComm()
	assert.Equal(t, comm.Rank, 0)
	assert.Equal(t, comm.Size, 1)
}

func TestWorldCommFromLauncherEnv(t *testing.T) {
	t.Setenv("OMPI_COMM_WORLD_RANK", "3")
	t.Setenv("OMPI_COMM_WORLD_SIZE", "8")
	comm := WorldComm()
	assert.Equal(t, comm.Rank, 3)
	assert.Equal(t, comm.Size, 8)
}
