package echomux

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// RaiseFileLimit lifts the soft RLIMIT_NOFILE towards limit so a busy
// server can keep many channels registered at once. The hard limit is
// never touched.
func RaiseFileLimit(limit uint64) {
	current := &unix.Rlimit{}
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, current)
	if err != nil {
		log.Error().Msgf("error occur while getting OS limit of open files: %+v", err)
		return
	}
	if current.Cur >= limit {
		return
	}
	if limit > current.Max {
		limit = current.Max
	}
	err = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: limit, Max: current.Max})
	if err != nil {
		log.Error().Msgf("error occur while setting OS limit of open files: %+v", err)
	}
}
