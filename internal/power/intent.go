package power

import (
	"time"

	"panelctl/internal/wire"

	"github.com/google/uuid"
)

// DefaultIntentTimeout bounds how long an unconfirmed intent gates the
// controls before it is dropped as stale.
const DefaultIntentTimeout = 30 * time.Second

// Intent is a dispatched but unconfirmed power action. It only gates
// controls; it never changes the machine's value.
type Intent struct {
	ID       uuid.UUID
	Action   wire.PowerAction
	IssuedAt time.Time
}

func NewIntent(action wire.PowerAction, now time.Time) *Intent {
	return &Intent{ID: uuid.New(), Action: action, IssuedAt: now}
}

func (i *Intent) Expired(now time.Time, timeout time.Duration) bool {
	return i != nil && now.Sub(i.IssuedAt) >= timeout
}
