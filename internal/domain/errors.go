package domain

import (
	"fmt"

	"github.com/cwrk-planet/room-client/pkg/errs"
)

var (
	ErrMessageNotFound     = fmt.Errorf("message %w", errs.ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", errs.ErrNotFound)
	ErrEmptyText           = fmt.Errorf("%w: empty message text", errs.ErrInvalidInput)
)
