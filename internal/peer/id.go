package peer

import "github.com/google/uuid"

// ID identifies one connected participant. IDs are minted once per
// connection and never reused while the process lives.
type ID string

// None is the zero ID, used for "no target" and "not yet assigned".
const None ID = ""

// NewID mints a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Parse validates s as an ID produced by NewID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return None, err
	}
	return ID(u.String()), nil
}

func (id ID) String() string { return string(id) }

// Short returns the first 8 characters, enough for log lines.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
