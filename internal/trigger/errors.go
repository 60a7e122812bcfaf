package trigger

import "codeberg.org/sverin/daqctl/internal/errors"

const (
	ErrNotArmed     = errors.ErrorCode("trigger_not_armed")
	ErrAlreadyArmed = errors.ErrorCode("trigger_already_armed")
	ErrClosed       = errors.ErrorCode("trigger_closed")
	ErrBadSlot      = errors.ErrorCode("trigger_bad_slot")
)
