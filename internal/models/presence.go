package models

// ClientPresence identifies one connected participant of a board.
type ClientPresence struct {
	Username  string `json:"username"`
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId,omitempty"`
}

// BoardInfo summarizes a live session for the HTTP API.
type BoardInfo struct {
	SessionID    string           `json:"sessionId"`
	Incarnation  string           `json:"incarnation"`
	Members      []ClientPresence `json:"members"`
	Actions      int              `json:"actions"`
	Cursor       int              `json:"cursor"`
	LastSequence int64            `json:"lastSequence"`
}
