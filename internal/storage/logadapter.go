package storage

import (
	"fmt"

	"github.com/go-logr/logr"
)

// badgerLogAdapter fronts Badger's four-level Logger interface with a
// single logr.Logger, the same facade the rest of this module uses for
// structured logging.
type badgerLogAdapter struct {
	log logr.Logger
}

func (a badgerLogAdapter) Errorf(format string, args ...interface{}) {
	a.log.Error(nil, fmt.Sprintf(format, args...))
}

func (a badgerLogAdapter) Warningf(format string, args ...interface{}) {
	a.log.Info(fmt.Sprintf(format, args...), "level", "warning")
}

func (a badgerLogAdapter) Infof(format string, args ...interface{}) {
	a.log.V(1).Info(fmt.Sprintf(format, args...))
}

func (a badgerLogAdapter) Debugf(format string, args ...interface{}) {
	a.log.V(2).Info(fmt.Sprintf(format, args...))
}
