package channels

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

// discordMaxMessageLength is Discord's cap per message.
const discordMaxMessageLength = 2000

// DiscordChannel bridges Discord direct messages. Quick-reply options render
// as message component buttons; presses arrive as component interactions
// carrying the option id as the custom id.
type DiscordChannel struct {
	*BaseChannel
	token   string
	session *discordgo.Session
	// runCtx is the gateway lifetime context; discordgo handlers carry no
	// context of their own.
	runCtx context.Context
}

func NewDiscordChannel(token string, b *bus.MessageBus, allowList []string) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", b, allowList,
			WithMaxMessageLength(discordMaxMessageLength)),
		token: token,
	}
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	c.runCtx = ctx
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	c.session = session
	c.SetRunning(true)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	c.HandleMessage(
		c.runCtx,
		discordSenderID(m.Author),
		m.ID,
		m.Content,
		protocol.ContentText,
		nil,
		nil,
	)
}

func (c *DiscordChannel) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	// Acknowledge without a visible reply; the actual response arrives as a
	// regular outbound message.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		logger.WarnCF("channels", "Interaction ack failed", map[string]any{
			"channel": "discord", "error": err.Error(),
		})
	}

	data := i.MessageComponentData()
	sourceID := ""
	if i.Message != nil {
		sourceID = i.Message.ID
	}
	c.HandleMessage(
		c.runCtx,
		discordSenderID(user),
		i.ID,
		"",
		protocol.ContentText,
		&protocol.SelectedQuickReply{ID: data.CustomID, SourceMessageID: sourceID},
		nil,
	)
}

func (c *DiscordChannel) Send(ctx context.Context, msg *protocol.ResponseMessage) error {
	userID := msg.ChannelUserID
	if idx := strings.Index(userID, "|"); idx > 0 {
		userID = userID[:idx]
	}
	dm, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("discord dm channel: %w", err)
	}

	if msg.ContentType == protocol.ContentDocument && len(msg.BinaryContent) > 0 {
		name, _ := msg.Metadata["document_name"].(string)
		if name == "" {
			name = "kundli.pdf"
		}
		_, err = c.session.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{
			Content: msg.Content,
			Files: []*discordgo.File{
				{Name: name, Reader: bytes.NewReader(msg.BinaryContent)},
			},
		})
		return err
	}

	send := &discordgo.MessageSend{Content: msg.Content}
	if len(msg.ReplyOptions) > 0 {
		send.Components = []discordgo.MessageComponent{discordButtons(msg.ReplyOptions)}
	}
	_, err = c.session.ChannelMessageSendComplex(dm.ID, send)
	return err
}

// discordButtons packs the options into a single action row. Discord caps a
// row at five buttons; option sets here never reach that.
func discordButtons(options []protocol.QuickReplyOption) discordgo.ActionsRow {
	buttons := make([]discordgo.MessageComponent, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, discordgo.Button{
			Label:    opt.Text,
			Style:    discordgo.PrimaryButton,
			CustomID: opt.ID,
		})
	}
	return discordgo.ActionsRow{Components: buttons}
}

func discordSenderID(user *discordgo.User) string {
	if user.Username != "" {
		return user.ID + "|" + user.Username
	}
	return user.ID
}
