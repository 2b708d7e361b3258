package session

import "github.com/foxseedlab/sanctuary/internal/apperr"

const (
	endReasonHost      = "ended_by_host"
	endReasonModerator = "ended_by_moderator"
	endReasonCancelled = "cancelled"
	endReasonExpired   = "duration_elapsed"

	leaveReasonLeft         = "left"
	leaveReasonKicked       = "kicked"
	leaveReasonSessionEnded = "session_ended"

	lowerReasonExpired = "hand_raise_expired"
)

var (
	ErrSessionNotFound     = apperr.New(apperr.KindNotFound, "session not found")
	ErrParticipantNotFound = apperr.New(apperr.KindNotFound, "participant is not in the session")
	ErrRoomNotFound        = apperr.New(apperr.KindNotFound, "breakout room not found")

	ErrNotHost        = apperr.New(apperr.KindForbidden, "not host")
	ErrNotPrivileged  = apperr.New(apperr.KindForbidden, "host or moderator required")
	ErrNotInvited     = apperr.New(apperr.KindForbidden, "not invited to this session")
	ErrKicked         = apperr.New(apperr.KindForbidden, "removed from this session")
	ErrHostProtected  = apperr.New(apperr.KindForbidden, "the host cannot be removed or demoted")
	ErrSelfOnly       = apperr.New(apperr.KindForbidden, "only the participant can do this")
	ErrNotParticipant = apperr.New(apperr.KindForbidden, "not admitted")

	ErrNotAcknowledged = apperr.New(apperr.KindConflict, "guidelines not acknowledged")
	ErrNotYetOpen      = apperr.New(apperr.KindConflict, "session is not open yet")
	ErrSessionEnded    = apperr.New(apperr.KindConflict, "session has ended")
	ErrSessionFull     = apperr.New(apperr.KindConflict, "session is full")
	ErrRoomFull        = apperr.New(apperr.KindConflict, "room full")
	ErrRoomEnded       = apperr.New(apperr.KindConflict, "breakout room has ended")
	ErrNotInRoom       = apperr.New(apperr.KindConflict, "participant is not in this room")
	ErrInvalidStatus   = apperr.New(apperr.KindConflict, "operation not permitted in the current status")
)

func endReasonDetail(reason string) string {
	switch reason {
	case endReasonHost:
		return "The host ended the session."
	case endReasonModerator:
		return "A moderator ended the session."
	case endReasonCancelled:
		return "The scheduled session was cancelled."
	case endReasonExpired:
		return "The session reached its scheduled duration."
	default:
		return "The session ended."
	}
}
