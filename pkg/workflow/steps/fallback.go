package steps

import (
	"context"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/workflow"
)

const firstContactWelcomeText = "Namaste! 🙏 Welcome to Luna, your personal Vedic astrology guide.\n\n" +
	"Here is what I can do for you:\n\n" +
	"• *Generate your kundli* - Create your vedic birth chart with detailed analysis\n" +
	"• *Astro Consultation* - Get personalized answers to your astrology questions\n\n" +
	"Just send */Luna* at any time to return to this menu\n\n" +
	"What would you like to explore today?"

const unknownFallbackText = "I'm not sure what you're asking for. I can help you with:\n\n" +
	"• *Generating your kundli* (birth chart) - Just tell me you want your kundli\n" +
	"• *Managing your profiles* - Add or update birth details for you or your family\n\n" +
	"Just send */Luna* at any time to return to the main menu\n\n" +
	"Could you please rephrase your request or let me know which of these you'd like help with?"

// UnknownFallbackStep handles messages no intent could be derived for. A
// first-time user gets the welcome message instead of a fallback, so the
// very first contact never reads like a failure.
type UnknownFallbackStep struct{}

func NewUnknownFallbackStep() *UnknownFallbackStep { return &UnknownFallbackStep{} }

func (s *UnknownFallbackStep) ID() workflow.StepID { return workflow.StepUnknownFallback }

func (s *UnknownFallbackStep) Execute(_ context.Context, msg *protocol.RequestMessage, sess *session.Session, _ workflow.ID, _ map[string]any) (workflow.Result, error) {
	isFirstMessage := len(sess.ConversationHistory) == 1

	var response *protocol.ResponseMessage
	if isFirstMessage {
		logger.InfoCF("steps", "Welcoming new user", map[string]any{"user_id": sess.UserID})
		response = msg.CreateTextResponse(firstContactWelcomeText,
			protocol.WithReplyOptions([]protocol.QuickReplyOption{
				protocol.BuildQuickReply(string(workflow.GenerateKundli), "generate_kundli", "Generate my Kundli"),
			}),
		).AddMetadata("is_first_message", true)
	} else {
		response = msg.CreateTextResponse(unknownFallbackText,
			protocol.WithReplyOptions([]protocol.QuickReplyOption{
				protocol.BuildQuickReply(string(workflow.GenerateKundli), "generate_kundli", "Generate my Kundli"),
			}),
		).AddMetadata("intent", "unknown")
	}

	return workflow.Result{
		Response:       response,
		Action:         workflow.ActionComplete,
		ContextUpdates: map[string]any{"fallback_handled": true},
	}, nil
}
