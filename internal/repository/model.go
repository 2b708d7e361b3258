package repository

import "time"

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusEnded     SessionStatus = "ended"
)

// Rank orders statuses along the lifecycle so regressions can be detected.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionStatusScheduled:
		return 0
	case SessionStatusWaiting:
		return 1
	case SessionStatusLive:
		return 2
	case SessionStatusActive:
		return 3
	case SessionStatusEnded:
		return 4
	default:
		return -1
	}
}

func (s SessionStatus) IsOpen() bool {
	return s == SessionStatusLive || s == SessionStatusActive
}

type AccessType string

const (
	AccessPublic     AccessType = "public"
	AccessInviteOnly AccessType = "invite-only"
	AccessPrivate    AccessType = "private"
)

func (a AccessType) Valid() bool {
	switch a {
	case AccessPublic, AccessInviteOnly, AccessPrivate:
		return true
	default:
		return false
	}
}

type SessionFeatures struct {
	VoiceModulationEnabled  bool `json:"voice_modulation_enabled"`
	ModerationEnabled       bool `json:"moderation_enabled"`
	RecordingEnabled        bool `json:"recording_enabled"`
	AudioOnly               bool `json:"audio_only"`
	EmergencyContactEnabled bool `json:"emergency_contact_enabled"`
}

type Session struct {
	ID                 string          `json:"id"`
	Topic              string          `json:"topic"`
	Description        string          `json:"description,omitempty"`
	AccessType         AccessType      `json:"access_type"`
	Status             SessionStatus   `json:"status"`
	ScheduledAt        *time.Time      `json:"scheduled_at,omitempty"`
	DurationMinutes    int             `json:"duration_minutes"`
	MaxParticipants    int             `json:"max_participants"`
	HostID             string          `json:"host_id"`
	Features           SessionFeatures `json:"features"`
	Invitees           []string        `json:"invitees,omitempty"`
	ChannelID          string          `json:"channel_id,omitempty"`
	ChannelName        string          `json:"channel_name,omitempty"`
	MonitoringDegraded bool            `json:"monitoring_degraded"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	EndReason          string          `json:"end_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Privileged() bool {
	return r == RoleHost || r == RoleModerator
}

type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

type Reaction struct {
	Emoji     string    `json:"emoji"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Participant struct {
	SessionID         string           `json:"session_id"`
	ID                string           `json:"id"`
	Alias             string           `json:"alias"`
	Role              Role             `json:"role"`
	IsMuted           bool             `json:"is_muted"`
	HandRaised        bool             `json:"hand_raised"`
	HandRaisedAt      *time.Time       `json:"hand_raised_at,omitempty"`
	ConnectionStatus  ConnectionStatus `json:"connection_status"`
	ConnectionQuality string           `json:"connection_quality,omitempty"`
	AudioLevel        int              `json:"audio_level"`
	RoomID            string           `json:"room_id,omitempty"`
	Reactions         []Reaction       `json:"reactions,omitempty"`
	MediaToken        string           `json:"-"`
	AdmissionSeq      int64            `json:"admission_seq"`
	JoinedAt          time.Time        `json:"joined_at"`
	LeftAt            *time.Time       `json:"left_at,omitempty"`
	LeaveReason       string           `json:"leave_reason,omitempty"`
}

func (p *Participant) Present() bool {
	return p.LeftAt == nil
}

type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusActive  RoomStatus = "active"
	RoomStatusEnded   RoomStatus = "ended"
)

type BreakoutRoom struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Name            string     `json:"name"`
	Topic           string     `json:"topic,omitempty"`
	FacilitatorID   string     `json:"facilitator_id"`
	MaxParticipants int        `json:"max_participants"`
	Status          RoomStatus `json:"status"`
	Members         []string   `json:"members"`
	Seq             int64      `json:"seq"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

func (r *BreakoutRoom) Remaining() int {
	return r.MaxParticipants - len(r.Members)
}

func (r *BreakoutRoom) HasMember(participantID string) bool {
	for _, m := range r.Members {
		if m == participantID {
			return true
		}
	}
	return false
}

type AlertCategory string

const (
	AlertCategoryContent  AlertCategory = "content"
	AlertCategoryBehavior AlertCategory = "behavior"
	AlertCategoryReport   AlertCategory = "report"
	AlertCategoryCrisis   AlertCategory = "crisis"
	AlertCategorySystem   AlertCategory = "system"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the severity one step higher, capped at critical.
func (s Severity) Next() Severity {
	r := s.Rank()
	if r < 0 || r+1 >= len(severityOrder) {
		return SeverityCritical
	}
	return severityOrder[r+1]
}

func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusEscalated    AlertStatus = "escalated"
	AlertStatusResolved     AlertStatus = "resolved"
)

type AlertAction struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

type Alert struct {
	ID                  string        `json:"id"`
	SessionID           string        `json:"session_id"`
	Category            AlertCategory `json:"category"`
	Severity            Severity      `json:"severity"`
	SubjectID           string        `json:"subject_id"`
	ReporterID          string        `json:"reporter_id,omitempty"`
	Confidence          float64       `json:"confidence"`
	Triggers            []string      `json:"triggers,omitempty"`
	Status              AlertStatus   `json:"status"`
	ActionRequired      bool          `json:"action_required"`
	Actions             []AlertAction `json:"actions"`
	EmergencyNotifiedAt *time.Time    `json:"emergency_notified_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id"`
	Operation string    `json:"operation"`
	Target    string    `json:"target,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
