package collab

import (
	"context"

	"go.uber.org/zap"

	"colladoc/api/internal/call"
	"colladoc/api/internal/protocol"
)

type callRef struct {
	DocumentID string `json:"documentId"`
}

// canReach reports whether c may see call traffic of documentID: either it is
// joined there or its user holds any role on the document.
func (m *Manager) canReach(ctx context.Context, c *Conn, documentID string) bool {
	if documentID == "" {
		return false
	}
	if c.DocumentID() == documentID || m.calls.InCall(documentID, c.id) {
		return true
	}
	_, ok, err := m.resolver.ResolveRole(ctx, documentID, c.userID)
	if err != nil {
		m.log.Error("resolve call access", zap.String("document", documentID), zap.String("user", c.userID), zap.Error(err))
		return false
	}
	return ok
}

func callStateData(state call.State) protocol.CallStateData {
	return protocol.CallStateData{
		IsActive:     true,
		Participants: state.Participants,
		Initiator:    state.Initiator,
		RoomURL:      state.RoomURL,
	}
}

func (m *Manager) handleGetCallState(ctx context.Context, c *Conn, in protocol.Inbound) {
	var ref callRef
	if !m.bindPayload(c, in, &ref) || !m.canReach(ctx, c, ref.DocumentID) {
		return
	}
	state, ok := m.calls.Get(ref.DocumentID)
	if !ok {
		c.sendEvent(protocol.Event{Type: protocol.CallStateUpdate, Data: protocol.CallStateData{IsActive: false}})
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.CallStateUpdate, Data: callStateData(state)})
}

// handleStartCall opens the call on a document or joins the one in progress.
func (m *Manager) handleStartCall(ctx context.Context, c *Conn, in protocol.Inbound) {
	var payload protocol.StartCallPayload
	if !m.bindPayload(c, in, &payload) || !m.canReach(ctx, c, payload.DocumentID) {
		return
	}
	documentID := payload.DocumentID
	if previous := c.CallDocumentID(); previous != "" && previous != documentID {
		m.leaveCallConnection(c, previous)
	}

	name := payload.Name
	if name == "" {
		name = c.currentProfile().Name
	}

	unlock := m.documentLocks.Lock(documentID)
	defer unlock()

	result := m.calls.Start(documentID, c.userID, c.id, payload.RoomURL)
	c.setCall(documentID)
	switch {
	case result.Created:
		m.broadcastOthers(documentID, c, protocol.Event{Type: protocol.CallStarted, Data: protocol.CallStartedData{
			Initiator:     c.userID,
			InitiatorName: name,
			Participants:  result.State.Participants,
			RoomURL:       result.State.RoomURL,
		}})
		m.log.Info("call started", zap.String("document", documentID), zap.String("user", c.userID))
	case result.NewParticipant:
		m.broadcastOthers(documentID, c, protocol.Event{Type: protocol.UserJoinedCall, Data: protocol.CallMemberData{
			UserID: c.userID,
			Name:   name,
		}})
	}
}

func (m *Manager) handleEndCall(c *Conn, in protocol.Inbound) {
	var ref callRef
	if !m.bindPayload(c, in, &ref) || ref.DocumentID == "" {
		return
	}

	unlock := m.documentLocks.Lock(ref.DocumentID)
	defer unlock()

	result := m.calls.End(ref.DocumentID, c.userID)
	for _, other := range m.userConnections(c.userID) {
		other.clearCall(ref.DocumentID)
	}
	m.announceCallLeave(c, ref.DocumentID, result)
}

// leaveCallConnection drops one connection from a call, as on disconnect.
func (m *Manager) leaveCallConnection(c *Conn, documentID string) {
	unlock := m.documentLocks.Lock(documentID)
	defer unlock()

	result := m.calls.LeaveConnection(documentID, c.userID, c.id)
	c.clearCall(documentID)
	m.announceCallLeave(c, documentID, result)
}

// announceCallLeave must run under the document lock of documentID.
func (m *Manager) announceCallLeave(c *Conn, documentID string, result call.LeaveResult) {
	switch {
	case !result.Found || !result.UserLeft:
		return
	case result.Ended:
		m.broadcastAll(documentID, protocol.Event{Type: protocol.CallEnded, Data: protocol.CallEndedData{DocumentID: documentID}})
		m.log.Info("call ended", zap.String("document", documentID))
	default:
		m.broadcastOthers(documentID, c, protocol.Event{Type: protocol.UserLeftCall, Data: protocol.CallMemberData{
			UserID: c.userID,
			Name:   c.currentProfile().Name,
		}})
		m.broadcastAll(documentID, protocol.Event{Type: protocol.CallStateUpdate, Data: callStateData(result.State)})
	}
}

func (m *Manager) handleMediaState(c *Conn, in protocol.Inbound) {
	var payload protocol.MediaStatePayload
	if !m.bindPayload(c, in, &payload) || payload.DocumentID == "" {
		return
	}
	if c.DocumentID() != payload.DocumentID && !m.calls.InCall(payload.DocumentID, c.id) {
		return
	}
	m.broadcastOthers(payload.DocumentID, c, protocol.Event{Type: protocol.UserMediaState, Data: protocol.MediaStateData{
		UserID:         c.userID,
		IsVideoEnabled: payload.IsVideoEnabled,
		IsAudioEnabled: payload.IsAudioEnabled,
	}})
}

// handleSignal relays WebRTC negotiation to the target user's most recent
// connection. Nothing is reported back when the target is offline.
func (m *Manager) handleSignal(c *Conn, in protocol.Inbound) {
	var payload protocol.SignalPayload
	if !m.bindPayload(c, in, &payload) || payload.TargetUserID == "" {
		return
	}
	target := m.latestConnection(payload.TargetUserID)
	if target == nil {
		return
	}
	data := protocol.SignalData{FromUserID: c.userID}
	switch in.Type {
	case protocol.WebRTCOffer:
		data.Offer = payload.Offer
	case protocol.WebRTCAnswer:
		data.Answer = payload.Answer
	case protocol.WebRTCICECandidate:
		data.Candidate = payload.Candidate
	}
	name := in.Name
	if name == "" {
		name = in.Type
	}
	target.sendEvent(protocol.Event{Type: name, Data: data})
}
