package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LocalTimeLayout is the wall-clock format shown to people.
const LocalTimeLayout = "2006-01-02 15:04:05"

// SessionView describes a wizard session in a transport-friendly format.
type SessionView struct {
	ID             string   `json:"id"`
	Phase          string   `json:"phase"`
	Detected       []string `json:"detected"`
	Order          []string `json:"order"`
	Placed         []string `json:"placed"`
	Pending        []string `json:"pending"`
	Current        string   `json:"current,omitempty"`
	StartedAt      string   `json:"startedAt,omitempty"`
	ElapsedSeconds int64    `json:"elapsedSeconds"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
	Source         string   `json:"source,omitempty"`
	TokensUsed     int      `json:"tokensUsed"`
	ImageB64       string   `json:"imageB64,omitempty"`
}

// PlacementView describes one recorded placement.
type PlacementView struct {
	ID              string `json:"id"`
	SessionID       string `json:"sessionId,omitempty"`
	Object          string `json:"object"`
	Location        string `json:"location"`
	StartedAt       string `json:"startedAt"`
	FinishedAt      string `json:"finishedAt"`
	DurationSeconds int64  `json:"durationSeconds"`
	OrderIndex      int    `json:"orderIndex"`
	Source          string `json:"source,omitempty"`
	ImageB64        string `json:"imageB64,omitempty"`
}

// ProgressView summarizes time invested against the goal.
type ProgressView struct {
	TotalSeconds int64   `json:"totalSeconds"`
	Hours        float64 `json:"hours"`
	GoalHours    float64 `json:"goalHours"`
	Fraction     float64 `json:"fraction"`
	Percent      float64 `json:"percent"`
}

// StatusView aggregates daemon runtime information.
type StatusView struct {
	Version         string         `json:"version,omitempty"`
	StartedAt       string         `json:"startedAt,omitempty"`
	StoreBackend    string         `json:"storeBackend"`
	VisionModel     string         `json:"visionModel,omitempty"`
	VisionAvailable bool           `json:"visionAvailable"`
	ActiveSessions  int            `json:"activeSessions"`
	PhaseCounts     map[string]int `json:"phaseCounts"`
	Progress        ProgressView   `json:"progress"`
}

// HealthView is the liveness payload.
type HealthView struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Detail string `json:"detail,omitempty"`
}

// DetectionView is one vision request made for a session.
type DetectionView struct {
	ID         string   `json:"id"`
	Objects    []string `json:"objects"`
	Model      string   `json:"model,omitempty"`
	TokensUsed int      `json:"tokensUsed"`
	CreatedAt  string   `json:"createdAt"`
}

// SessionResponse wraps a session, optionally with the placement just
// recorded or the session's detection history.
type SessionResponse struct {
	Session    SessionView     `json:"session"`
	Placement  *PlacementView  `json:"placement,omitempty"`
	Detections []DetectionView `json:"detections,omitempty"`
}

// SessionsResponse lists sessions.
type SessionsResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// HistoryResponse lists recent placements, newest first.
type HistoryResponse struct {
	Placements []PlacementView `json:"placements"`
}

// CreateSessionRequest starts a session.
type CreateSessionRequest struct {
	Source string `json:"source,omitempty"`
}

// OrderRequest confirms the objects to place, in order.
type OrderRequest struct {
	Order []string `json:"order"`
}

// StartRequest starts timing an object. An empty object picks the next pending one.
type StartRequest struct {
	Object string `json:"object,omitempty"`
}

// FinishRequest records where the current object went.
type FinishRequest struct {
	Location string `json:"location"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
