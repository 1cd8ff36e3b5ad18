package kis

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. The engine never calls time.Now directly
// so tests can pin timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies identifiers for new records.
type IDGenerator interface {
	New() string
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// UUIDGenerator issues random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
