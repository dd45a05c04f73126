// Package router is the dispatch core: every inbound canonical message
// passes through exactly once. The router resolves the user, maintains the
// session, derives an intent (deterministically where possible, via the
// classifier otherwise) and hands the turn to the workflow engine. It
// guarantees a response for every message; no error escapes to a channel
// adapter.
package router

import (
	"context"
	"strings"

	"github.com/lunalabs/luna/pkg/intent"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

// slashCommands open the main menu from anywhere in a conversation.
var slashCommands = []string{"/luna", "/menu", "/help"}

// IsSlashCommand reports whether content invokes the main menu. Matching is
// a trimmed, lowercased prefix check; empty content never matches and
// non-leading occurrences don't count.
func IsSlashCommand(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	if c == "" {
		return false
	}
	for _, cmd := range slashCommands {
		if strings.HasPrefix(c, cmd) {
			return true
		}
	}
	return false
}

// Router dispatches canonical messages to workflows.
type Router struct {
	sessions      *session.Manager
	classifier    intent.Classifier
	engine        *workflow.Engine
	users         store.UserStore
	conversations store.ConversationStore
}

// New builds a Router. conversations may be nil, in which case turns live
// only in the session cache (used by tests and throwaway setups); with a
// store, every inbound and outbound message is saved so later sessions
// hydrate from it.
func New(sessions *session.Manager, classifier intent.Classifier, engine *workflow.Engine, users store.UserStore, conversations store.ConversationStore) *Router {
	return &Router{
		sessions:      sessions,
		classifier:    classifier,
		engine:        engine,
		users:         users,
		conversations: conversations,
	}
}

// Route processes one inbound message end to end and always returns a
// response. The user turn is recorded (cache and store) before dispatch and
// the assistant turn after it, so the exchange survives even when the
// workflow failed.
func (r *Router) Route(ctx context.Context, msg *protocol.RequestMessage) *protocol.ResponseMessage {
	userID, err := r.resolveUser(ctx, msg)
	if err != nil {
		logger.ErrorCF("router", "User resolution failed", map[string]any{
			"channel": msg.ChannelType, "channel_user_id": msg.ChannelUserID, "error": err.Error(),
		})
		return msg.CreateErrorResponse("")
	}
	msg.UserID = userID

	sess, hyd := r.sessions.GetOrCreate(ctx, userID, msg.ChannelType)
	if hyd.Degraded() {
		logger.WarnCF("router", "Session hydration degraded", map[string]any{
			"user_id": userID, "channel": msg.ChannelType,
		})
	}

	r.sessions.Update(ctx, userID, msg.ChannelType, session.MessageTurn{
		Role:     session.RoleUser,
		Content:  msg.Content,
		Metadata: msg.Metadata,
	})
	r.saveTurn(ctx, userID, msg.ChannelType, store.IncomingTypeFor(msg.ContentType), msg.Content, msg.Metadata)

	intentName := r.classifyIntent(ctx, msg, sess)

	// A non-unknown active intent survives an unknown classification; the
	// in-flight workflow keeps the turn.
	if intentName == intent.Unknown && sess.ActiveIntent != "" && sess.ActiveIntent != intent.Unknown {
		logger.InfoCF("router", "Keeping active intent over unknown classification", map[string]any{
			"user_id": userID, "active_intent": sess.ActiveIntent,
		})
		intentName = sess.ActiveIntent
	}
	if intentName != intent.Unknown {
		r.sessions.SetActiveIntent(ctx, userID, intentName, msg.ChannelType)
	}

	logger.InfoCF("router", "Routing to workflow", map[string]any{
		"user_id": userID, "intent": intentName,
	})
	response := r.engine.Execute(ctx, workflow.ID(intentName), msg, sess)
	if response == nil {
		response = msg.CreateErrorResponse("")
	}
	response.AddMetadata("predicted_intent", intentName)

	r.sessions.Update(ctx, userID, msg.ChannelType, session.MessageTurn{
		Role:     session.RoleAssistant,
		Content:  response.Content,
		Metadata: response.Metadata,
	})
	r.saveTurn(ctx, userID, msg.ChannelType, store.OutgoingTypeFor(response.ContentType), response.Content, response.Metadata)

	return response
}

// HandleEvent forwards an external event (payment callback, async job) to
// the user's waiting workflow, if any, and persists the resumed response.
func (r *Router) HandleEvent(ctx context.Context, eventType string, data map[string]any, msg *protocol.RequestMessage) *protocol.ResponseMessage {
	userID, err := r.resolveUser(ctx, msg)
	if err != nil {
		logger.ErrorCF("router", "User resolution failed for event", map[string]any{
			"event": eventType, "error": err.Error(),
		})
		return nil
	}
	msg.UserID = userID

	sess, _ := r.sessions.GetOrCreate(ctx, userID, msg.ChannelType)
	response := r.engine.HandleEvent(ctx, eventType, data, msg, sess)
	if response == nil {
		return nil
	}

	r.sessions.Update(ctx, userID, msg.ChannelType, session.MessageTurn{
		Role:     session.RoleAssistant,
		Content:  response.Content,
		Metadata: response.Metadata,
	})
	r.saveTurn(ctx, userID, msg.ChannelType, store.OutgoingTypeFor(response.ContentType), response.Content, response.Metadata)
	return response
}

// saveTurn persists one message to durable history. Best-effort: a storage
// failure costs future hydration fidelity, not this turn.
func (r *Router) saveTurn(ctx context.Context, userID, channelType string, mt store.MessageType, content string, info map[string]any) {
	if r.conversations == nil {
		return
	}
	_, err := r.conversations.SaveMessage(ctx, userID, store.ChannelType(channelType), mt, content, info)
	if err != nil {
		logger.ErrorCF("router", "Message persistence failed", map[string]any{
			"user_id": userID, "channel": channelType, "type": string(mt), "error": err.Error(),
		})
	}
}

func (r *Router) resolveUser(ctx context.Context, msg *protocol.RequestMessage) (string, error) {
	if msg.UserID != "" {
		return msg.UserID, nil
	}
	return r.users.ResolveUser(ctx, store.ChannelType(msg.ChannelType), msg.ChannelUserID)
}

// classifyIntent derives the intent for a turn. Deterministic signals win:
// a well-formed quick reply binds directly to its workflow and slash
// commands always open the menu. Only free text reaches the classifier,
// and classifier failure degrades to unknown rather than surfacing.
func (r *Router) classifyIntent(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session) string {
	if msg.SelectedReply.HasValidFormat() {
		workflowID := msg.SelectedReply.WorkflowID()
		if intent.IsValid(workflowID) {
			logger.InfoCF("router", "Deterministic intent from quick reply", map[string]any{
				"intent": workflowID, "action": msg.SelectedReply.Action(),
			})
			return workflowID
		}
		logger.WarnCF("router", "Quick reply names unknown workflow", map[string]any{
			"workflow_id": workflowID,
		})
	}

	if IsSlashCommand(msg.Content) {
		logger.InfoCF("router", "Slash command detected", map[string]any{"content": msg.Content})
		return intent.MainMenu
	}

	name, err := r.classifier.Classify(ctx, intent.Input{
		History:      sess.ConversationHistory,
		ActiveIntent: sess.ActiveIntent,
	})
	if err != nil {
		logger.ErrorCF("router", "Intent classification failed", map[string]any{
			"user_id": sess.UserID, "error": err.Error(),
		})
		return intent.Unknown
	}
	if !intent.IsValid(name) {
		logger.WarnCF("router", "Classifier returned invalid intent", map[string]any{"intent": name})
		return intent.Unknown
	}
	return name
}
