package utils

import (
	"os"
	"strconv"
)

// Comm identifies this process within the fixed-size process group the
// launcher established before the driver started.
type Comm struct {
	Rank int
	Size int
}

// rankVars and sizeVars are the environment variables the common MPI
// launchers set on each spawned process.
var (
	rankVars = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "SLURM_PROCID"}
	sizeVars = []string{"OMPI_COMM_WORLD_SIZE", "PMI_SIZE", "SLURM_NTASKS"}
)

// WorldComm reads the process-group identity from the launcher environment.
// Outside a launcher it reports rank 0 of 1, so a serial run behaves as the
// coordinating rank.
func WorldComm() Comm {
	return Comm{
		Rank: envInt(rankVars, 0),
		Size: envInt(sizeVars, 1),
	}
}

func envInt(names []string, def int) int {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}
