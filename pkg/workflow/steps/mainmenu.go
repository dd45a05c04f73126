package steps

import (
	"context"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/workflow"
)

const newUserWelcomeText = "🙏 Welcome to Luna, your personal Vedic astrology guide.\n\n" +
	"Here's what I can help you with:\n\n" +
	"• *Generate Kundli* - Create your vedic birth chart with detailed analysis\n" +
	"• *Astro Consultation* - Get personalized answers to your astrology questions\n\n" +
	"Just send */Luna* at any time to return to this menu\n\n" +
	"What would you like to explore today?"

const returningUserMenuText = "🌟 Welcome back to Luna!\n\n" +
	"Here's what I can help you with:\n\n" +
	"• *Generate Kundli* - Create your vedic birth chart with detailed analysis\n" +
	"• *Astro Consultation* - Get personalized answers to your astrology questions\n\n" +
	"Just send */Luna* at any time to return to this menu\n\n" +
	"What would you like to explore today?"

// MainMenuStep shows the main menu. It is reachable at any time through the
// slash commands, so it never assumes any prior workflow state.
type MainMenuStep struct{}

func NewMainMenuStep() *MainMenuStep { return &MainMenuStep{} }

func (s *MainMenuStep) ID() workflow.StepID { return workflow.StepMainMenu }

func mainMenuReplies() []protocol.QuickReplyOption {
	return []protocol.QuickReplyOption{
		protocol.BuildQuickReply(string(workflow.GenerateKundli), "generate_kundli", "Generate my Kundli"),
		protocol.BuildQuickReply(string(workflow.ProfileQnA), "astro_consultation", "Astro Consultation"),
	}
}

func (s *MainMenuStep) Execute(_ context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, _ map[string]any) (workflow.Result, error) {
	// A brand-new user has exactly one history entry: the message that
	// brought them here.
	isNewUser := len(sess.ConversationHistory) == 1

	content := returningUserMenuText
	if isNewUser {
		content = newUserWelcomeText
	}
	logger.InfoCF("steps", "Showing main menu", map[string]any{
		"user_id": sess.UserID, "new_user": isNewUser,
	})

	response := msg.CreateTextResponse(content,
		protocol.WithReplyOptions(mainMenuReplies()),
	).UpdateMetadata(map[string]any{
		"workflow_id":  string(workflowID),
		"is_main_menu": true,
		"is_new_user":  isNewUser,
	})

	// The menu is a single exchange; the selected option starts a fresh
	// workflow on the next turn.
	return workflow.Result{
		Response: response,
		Action:   workflow.ActionComplete,
		ContextUpdates: map[string]any{
			"main_menu_shown": true,
		},
	}, nil
}
