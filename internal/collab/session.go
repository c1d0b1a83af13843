package collab

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"colladoc/api/internal/presence"
	"colladoc/api/internal/protocol"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/store"
)

func (m *Manager) handleJoin(ctx context.Context, c *Conn, in protocol.Inbound) {
	var ref protocol.DocumentRef
	if err := in.Bind(&ref); err != nil || strings.TrimSpace(ref.DocumentID) == "" {
		c.sendEvent(protocol.Event{Type: protocol.Error, Data: protocol.ErrorData{Message: accessDeniedMessage}})
		return
	}
	m.Join(ctx, c, ref.DocumentID)
}

// Join binds c to documentID if the user may read it. A refused join leaves
// any existing binding untouched and answers with an error event.
func (m *Manager) Join(ctx context.Context, c *Conn, documentID string) bool {
	prior, ok := c.beginJoin()
	if !ok {
		return false
	}

	role, granted, err := m.resolver.ResolveRole(ctx, documentID, c.userID)
	if err != nil {
		m.log.Error("resolve document role",
			zap.String("document", documentID), zap.String("user", c.userID), zap.Error(err))
		granted = false
	}
	if !granted {
		c.restore(prior)
		c.sendEvent(protocol.Event{Type: protocol.Error, Data: protocol.ErrorData{Message: accessDeniedMessage}})
		return false
	}

	profile := m.loadProfile(ctx, c)

	if current := c.binding(); current.documentID != "" {
		m.leaveDocument(c, StateJoining)
	}

	unlock := m.documentLocks.Lock(documentID)
	presenceID := m.presence.Register(documentID, profile, c.id)
	c.bind(documentID, role, presenceID)
	m.rooms.Join(documentID, c)

	roster := m.presence.ListActive(documentID, presence.LiveWindow)
	c.sendEvent(protocol.Event{Type: protocol.ActiveUsers, Data: roster})
	m.broadcastOthers(documentID, c, protocol.Event{Type: protocol.UserJoined, Data: protocol.UserJoinedData{
		UserID: c.userID,
		Name:   profile.Name,
		Avatar: profile.Avatar,
		Role:   string(role),
	}})
	m.broadcastAll(documentID, protocol.Event{Type: protocol.ActiveUsers, Data: roster})
	unlock()

	m.log.Info("document joined",
		zap.String("document", documentID), zap.String("user", c.userID), zap.String("role", string(role)))

	m.sendDocument(ctx, c, documentID, role)
	return true
}

// sendDocument gives the joiner the stored content. It holds the write lock
// so no text-changed broadcast can be overtaken by an older snapshot.
func (m *Manager) sendDocument(ctx context.Context, c *Conn, documentID string, role rbac.Role) {
	unlock := m.writeLocks.Lock(documentID)
	defer unlock()

	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		m.log.Error("load document for joiner", zap.String("document", documentID), zap.Error(err))
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.DocumentLoaded, Data: protocol.DocumentLoadedData{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		Role:       string(role),
		Version:    doc.Version,
	}})
}

func (m *Manager) handleLeave(_ context.Context, c *Conn) {
	if c.DocumentID() == "" {
		return
	}
	c.markLeaving()
	m.leaveDocument(c, StateUnbound)
	if callDocumentID := c.CallDocumentID(); callDocumentID != "" {
		m.leaveCallConnection(c, callDocumentID)
	}
}

// leaveDocument removes c from its current document and tells the remaining
// members. next is the state c ends in.
func (m *Manager) leaveDocument(c *Conn, next State) {
	current := c.binding()
	if current.documentID == "" {
		return
	}
	documentID := current.documentID

	unlock := m.documentLocks.Lock(documentID)
	defer unlock()

	m.presence.RemoveByConnection(c.id)
	m.rooms.Leave(documentID, c)
	c.unbind(next)

	roster := m.presence.ListActive(documentID, presence.LiveWindow)
	m.broadcastAll(documentID, protocol.Event{Type: protocol.ActiveUsers, Data: roster})
	m.broadcastAll(documentID, protocol.Event{Type: protocol.UserLeft, Data: protocol.UserLeftData{UserID: c.userID}})

	m.log.Info("document left", zap.String("document", documentID), zap.String("user", c.userID))
}

func (m *Manager) handleTextChange(ctx context.Context, c *Conn, in protocol.Inbound) {
	current := c.binding()
	if current.state != StateJoined || !rbac.Can(current.role, rbac.ActionWrite) {
		return
	}
	var payload protocol.TextChangePayload
	if !in.Has("content") || !m.bindPayload(c, in, &payload) {
		return
	}

	documentID := current.documentID
	unlock := m.writeLocks.Lock(documentID)
	defer unlock()

	if err := m.store.UpdateDocumentContent(ctx, documentID, payload.Content); err != nil {
		m.log.Error("persist document content",
			zap.String("document", documentID), zap.String("user", c.userID), zap.Error(err))
		return
	}
	m.presence.TouchSeen(current.presenceID)
	m.broadcastOthers(documentID, c, protocol.Event{Type: protocol.TextChanged, Data: protocol.TextChangedData{
		Content:   payload.Content,
		UserID:    c.userID,
		Selection: payload.Selection,
	}})
	if m.listener != nil {
		m.listener.DocumentContentChanged(documentID)
	}
}

func (m *Manager) handleCursor(c *Conn, in protocol.Inbound) {
	current := c.binding()
	if current.state != StateJoined {
		return
	}
	var payload protocol.CursorPayload
	if !in.Has("position") || !m.bindPayload(c, in, &payload) {
		return
	}
	m.presence.Touch(current.presenceID, payload.Position)
	m.broadcastOthers(current.documentID, c, protocol.Event{Type: protocol.CursorUpdate, Data: protocol.CursorUpdateData{
		UserID:   c.userID,
		Position: payload.Position,
	}})
}

func (m *Manager) handleAddComment(ctx context.Context, c *Conn, in protocol.Inbound) {
	current := c.binding()
	if current.state != StateJoined || !rbac.Can(current.role, rbac.ActionComment) {
		return
	}
	var payload protocol.AddCommentPayload
	if !m.bindPayload(c, in, &payload) || strings.TrimSpace(payload.Content) == "" {
		return
	}

	saved, err := m.store.InsertComment(ctx, store.Comment{
		ID:         m.ids.New(),
		DocumentID: current.documentID,
		UserID:     c.userID,
		Content:    payload.Content,
		Position:   payload.Position,
	})
	if err != nil {
		m.log.Error("persist comment",
			zap.String("document", current.documentID), zap.String("user", c.userID), zap.Error(err))
		return
	}

	name, avatar := saved.UserName, saved.UserAvatar
	if name == "" {
		name, avatar = current.profile.Name, current.profile.Avatar
	}
	m.broadcastAll(current.documentID, protocol.Event{Type: protocol.CommentAdded, Data: protocol.CommentAddedData{
		ID:        saved.ID,
		Content:   saved.Content,
		Position:  payload.Position,
		Resolved:  saved.Resolved,
		User:      protocol.CommentUser{ID: c.userID, Name: name, Avatar: avatar},
		CreatedAt: saved.CreatedAt,
	}})
}
