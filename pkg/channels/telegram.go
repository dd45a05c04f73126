package channels

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

// telegramMaxMessageLength is Telegram's hard cap per message.
const telegramMaxMessageLength = 4096

// TelegramChannel bridges Telegram via long polling. Quick-reply options are
// rendered as an inline keyboard; button presses come back as callback
// queries carrying the option id.
type TelegramChannel struct {
	*BaseChannel
	token   string
	bot     *telego.Bot
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewTelegramChannel(token string, b *bus.MessageBus, allowList []string) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", b, allowList,
			WithMaxMessageLength(telegramMaxMessageLength)),
		token: token,
	}
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	bot, err := telego.NewBot(c.token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	c.bot = bot

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.SetRunning(true)

	go func() {
		defer close(c.stopped)
		for update := range updates {
			c.handleUpdate(pollCtx, update)
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stopped != nil {
		select {
		case <-c.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		c.HandleMessage(
			ctx,
			compoundSenderID(msg.From),
			strconv.Itoa(msg.MessageID),
			msg.Text,
			protocol.ContentText,
			nil,
			nil,
		)
	}
}

func (c *TelegramChannel) handleCallback(ctx context.Context, query *telego.CallbackQuery) {
	// Acknowledge first so the client stops its spinner even if routing is slow.
	if err := c.bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(query.ID)); err != nil {
		logger.WarnCF("channels", "Callback ack failed", map[string]any{
			"channel": "telegram", "error": err.Error(),
		})
	}

	sourceID := ""
	if query.Message != nil {
		sourceID = strconv.Itoa(query.Message.GetMessageID())
	}
	c.HandleMessage(
		ctx,
		compoundSenderID(&query.From),
		query.ID,
		"",
		protocol.ContentText,
		&protocol.SelectedQuickReply{ID: query.Data, SourceMessageID: sourceID},
		nil,
	)
}

func (c *TelegramChannel) Send(ctx context.Context, msg *protocol.ResponseMessage) error {
	chatID, err := telegramChatID(msg.ChannelUserID)
	if err != nil {
		return err
	}

	if msg.ContentType == protocol.ContentDocument && len(msg.BinaryContent) > 0 {
		name, _ := msg.Metadata["document_name"].(string)
		if name == "" {
			name = "kundli.pdf"
		}
		file := tu.File(tu.NameReader(bytes.NewReader(msg.BinaryContent), name))
		doc := tu.Document(tu.ID(chatID), file).WithCaption(msg.Content)
		_, err = c.bot.SendDocument(ctx, doc)
		return err
	}

	params := tu.Message(tu.ID(chatID), msg.Content)
	if len(msg.ReplyOptions) > 0 {
		params = params.WithReplyMarkup(telegramKeyboard(msg.ReplyOptions))
	}
	_, err = c.bot.SendMessage(ctx, params)
	return err
}

// telegramKeyboard lays out one option per row; option text is short enough
// that stacking reads better than cramming a row.
func telegramKeyboard(options []protocol.QuickReplyOption) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(opt.Text).WithCallbackData(opt.ID),
		))
	}
	return tu.InlineKeyboard(rows...)
}

// compoundSenderID is "id|username" when a username exists, bare id
// otherwise. The allow-list matches either part.
func compoundSenderID(from *telego.User) string {
	id := strconv.FormatInt(from.ID, 10)
	if from.Username != "" {
		return id + "|" + from.Username
	}
	return id
}

// telegramChatID recovers the numeric chat id from a channel user id,
// tolerating the compound "id|username" form.
func telegramChatID(channelUserID string) (int64, error) {
	idPart := channelUserID
	if idx := strings.Index(channelUserID, "|"); idx > 0 {
		idPart = channelUserID[:idx]
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", channelUserID, err)
	}
	return id, nil
}
