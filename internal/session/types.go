package session

// CreateRequest defines payload for creating a new session. BrowserID is the
// legacy name for EndpointID.
type CreateRequest struct {
	EndpointID string `json:"endpointId"`
	BrowserID  string `json:"browserId"`
}

// UpdateRequest carries a lifecycle action; only "stop" is supported.
type UpdateRequest struct {
	Action string `json:"action"`
}

const ActionStop = "stop"

// View is the client-facing projection of a Session.
type View struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpointId"`
	Status     Status `json:"status"`
}

func (s *Session) View() View {
	return View{ID: s.ID, EndpointID: s.EndpointID, Status: s.Status}
}
