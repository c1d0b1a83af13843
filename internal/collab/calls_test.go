package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colladoc/api/internal/protocol"
)

func TestGetCallStateWithoutCall(t *testing.T) {
	f := newFixture(t)
	c := f.joined(t, "u2", "doc-1")

	send(t, f.manager, c, protocol.GetCallState, map[string]string{"documentId": "doc-1"})

	frames := drain(t, c)
	require.Equal(t, []string{"call-state-update"}, events(frames))
	assert.JSONEq(t, `{"isActive":false}`, string(frames[0].Data))
}

func TestCallLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	editor := f.joined(t, "u2", "doc-1", owner)
	viewer := f.joined(t, "u4", "doc-1", owner, editor)

	send(t, f.manager, owner, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1", RoomURL: "https://meet.example/r1"})

	assert.Empty(t, drain(t, owner))
	for _, c := range []*Conn{editor, viewer} {
		frames := drain(t, c)
		require.Equal(t, []string{"call-started"}, events(frames))
		started := decode[protocol.CallStartedData](t, frames[0])
		assert.Equal(t, protocol.CallStartedData{
			Initiator:     "u1",
			InitiatorName: "Ada",
			Participants:  []string{"u1"},
			RoomURL:       "https://meet.example/r1",
		}, started)
	}

	// Joining keeps the original room URL.
	send(t, f.manager, editor, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1", Name: "Bobby", RoomURL: "https://meet.example/other"})
	frames := drain(t, owner)
	require.Equal(t, []string{"user-joined-call"}, events(frames))
	assert.Equal(t, protocol.CallMemberData{UserID: "u2", Name: "Bobby"}, decode[protocol.CallMemberData](t, frames[0]))
	drain(t, viewer)

	state, ok := f.manager.CallState("doc-1")
	require.True(t, ok)
	assert.Equal(t, []string{"u1", "u2"}, state.Participants)
	assert.Equal(t, "https://meet.example/r1", state.RoomURL)

	// Starting again from the same user announces nothing.
	send(t, f.manager, editor, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	assert.Empty(t, drain(t, owner))

	send(t, f.manager, viewer, protocol.GetCallState, map[string]string{"documentId": "doc-1"})
	current := decode[protocol.CallStateData](t, drain(t, viewer)[0])
	assert.True(t, current.IsActive)
	assert.Equal(t, "u1", current.Initiator)
	assert.Equal(t, []string{"u1", "u2"}, current.Participants)

	send(t, f.manager, owner, protocol.EndCall, map[string]string{"documentId": "doc-1"})
	ownerFrames := drain(t, owner)
	require.Equal(t, []string{"call-state-update"}, events(ownerFrames))
	assert.Equal(t, []string{"u2"}, decode[protocol.CallStateData](t, ownerFrames[0]).Participants)
	assert.Equal(t, []string{"user-left-call", "call-state-update"}, events(drain(t, editor)))

	send(t, f.manager, editor, protocol.EndCall, map[string]string{"documentId": "doc-1"})
	frames = drain(t, viewer)
	require.Equal(t, []string{"user-left-call", "call-state-update", "call-ended"}, events(frames))
	assert.Equal(t, "doc-1", decode[protocol.CallEndedData](t, frames[2]).DocumentID)

	_, ok = f.manager.CallState("doc-1")
	assert.False(t, ok)
}

func TestStartCallRequiresAccess(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	outsider := f.connect("u3")

	send(t, f.manager, outsider, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})

	_, ok := f.manager.CallState("doc-1")
	assert.False(t, ok)
	assert.Empty(t, drain(t, owner))
}

func TestCallSurvivesDocumentSwitch(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	editor := f.joined(t, "u2", "doc-1", owner)
	send(t, f.manager, editor, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	drain(t, owner)

	send(t, f.manager, editor, protocol.JoinDocument, "doc-2")

	state, ok := f.manager.CallState("doc-1")
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, state.Participants)
	assert.Equal(t, "doc-1", editor.CallDocumentID())

	// Still a call member, so media updates reach doc-1.
	send(t, f.manager, editor, protocol.MediaStateChange, protocol.MediaStatePayload{DocumentID: "doc-1", IsAudioEnabled: true})
	frames := only(t, drain(t, owner), "user-media-state")
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.MediaStateData{UserID: "u2", IsAudioEnabled: true}, decode[protocol.MediaStateData](t, frames[0]))
}

func TestLeaveDocumentLeavesCall(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	editor := f.joined(t, "u2", "doc-1", owner)
	send(t, f.manager, owner, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	send(t, f.manager, editor, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	drain(t, owner)
	drain(t, editor)

	send(t, f.manager, editor, protocol.LeaveDocument, nil)

	assert.Equal(t, []string{"active-users", "user-left", "user-left-call", "call-state-update"}, events(drain(t, owner)))
	state, ok := f.manager.CallState("doc-1")
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, state.Participants)
}

func TestCallMembershipCountsConnections(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	phone := f.joined(t, "u2", "doc-1", owner)
	laptop := f.joined(t, "u2", "doc-1", owner, phone)
	send(t, f.manager, phone, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	send(t, f.manager, laptop, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	drain(t, owner)

	f.manager.Disconnect(context.Background(), phone)
	state, ok := f.manager.CallState("doc-1")
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, state.Participants)
	assert.NotContains(t, events(drain(t, owner)), "call-ended")

	f.manager.Disconnect(context.Background(), laptop)
	_, ok = f.manager.CallState("doc-1")
	assert.False(t, ok)
	assert.Contains(t, events(drain(t, owner)), "call-ended")
}

func TestEndCallRemovesEveryConnectionOfUser(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	phone := f.joined(t, "u2", "doc-1", owner)
	laptop := f.joined(t, "u2", "doc-1", owner, phone)
	send(t, f.manager, owner, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	send(t, f.manager, phone, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	send(t, f.manager, laptop, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	drain(t, owner)
	drain(t, phone)
	drain(t, laptop)

	send(t, f.manager, phone, protocol.EndCall, map[string]string{"documentId": "doc-1"})

	state, ok := f.manager.CallState("doc-1")
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, state.Participants)
	assert.Empty(t, phone.CallDocumentID())
	assert.Empty(t, laptop.CallDocumentID())
	assert.Equal(t, []string{"user-left-call", "call-state-update"}, events(drain(t, owner)))

	// The laptop no longer counts as in the call, so its disconnect is silent.
	drain(t, laptop)
	f.manager.Disconnect(context.Background(), laptop)
	assert.NotContains(t, events(drain(t, owner)), "user-left-call")

	send(t, f.manager, phone, protocol.StartCall, protocol.StartCallPayload{DocumentID: "doc-1"})
	assert.Equal(t, []string{"user-joined-call"}, events(drain(t, owner)))
}

func TestMediaStateRequiresMembership(t *testing.T) {
	f := newFixture(t)
	owner := f.joined(t, "u1", "doc-1")
	outsider := f.joined(t, "u2", "doc-2")

	send(t, f.manager, outsider, protocol.MediaStateChange, protocol.MediaStatePayload{DocumentID: "doc-1", IsVideoEnabled: true})

	assert.Empty(t, drain(t, owner))
}

func TestSignalRelay(t *testing.T) {
	f := newFixture(t)
	caller := f.connect("u1")
	older := f.connect("u2")
	newer := f.connect("u2")

	offer := map[string]any{"targetUserId": "u2", "offer": map[string]string{"sdp": "v=0"}}
	send(t, f.manager, caller, protocol.WebRTCOffer, offer)

	assert.Empty(t, drain(t, older))
	frames := drain(t, newer)
	require.Equal(t, []string{"webrtc-offer"}, events(frames))
	data := decode[protocol.SignalData](t, frames[0])
	assert.Equal(t, "u1", data.FromUserID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(data.Offer))
	assert.Empty(t, data.Answer)

	// The newest connection gone, the older one becomes the target.
	f.manager.Disconnect(context.Background(), newer)
	send(t, f.manager, caller, "webrtc-ice-candidate-legacy", map[string]any{"targetUserId": "u2", "candidate": map[string]string{"candidate": "c1"}})
	frames = drain(t, older)
	require.Equal(t, []string{"webrtc-ice-candidate-legacy"}, events(frames))
	assert.JSONEq(t, `{"candidate":"c1"}`, string(decode[protocol.SignalData](t, frames[0]).Candidate))
}

func TestSignalToOfflineUserIsDropped(t *testing.T) {
	f := newFixture(t)
	caller := f.connect("u1")

	send(t, f.manager, caller, protocol.WebRTCAnswer, map[string]any{"targetUserId": "u9", "answer": map[string]string{"sdp": "v=0"}})
	send(t, f.manager, caller, protocol.WebRTCAnswer, map[string]any{"answer": map[string]string{"sdp": "v=0"}})

	assert.Empty(t, drain(t, caller))
	assert.False(t, caller.Closed())
}
