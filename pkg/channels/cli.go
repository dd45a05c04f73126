package channels

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

// cliUserID identifies the single local terminal user.
const cliUserID = "local"

// CLIChannel is a readline REPL for local development. Reply options print
// as a numbered list; typing the number selects that option.
type CLIChannel struct {
	*BaseChannel
	rl      *readline.Instance
	stopped chan struct{}

	optMu       sync.Mutex
	lastOptions []protocol.QuickReplyOption
}

func NewCLIChannel(b *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", b, nil),
	}
}

func (c *CLIChannel) Start(ctx context.Context) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	c.rl = rl
	c.stopped = make(chan struct{})
	c.SetRunning(true)

	go c.readLoop(ctx)
	return nil
}

func (c *CLIChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.rl != nil {
		c.rl.Close()
	}
	if c.stopped != nil {
		select {
		case <-c.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	defer close(c.stopped)
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if selected := c.selectByNumber(line); selected != nil {
			c.HandleMessage(ctx, cliUserID, uuid.New().String(), "", protocol.ContentText, selected, nil)
			continue
		}
		c.HandleMessage(ctx, cliUserID, uuid.New().String(), line, protocol.ContentText, nil, nil)
	}
}

// selectByNumber maps a bare number onto the most recent option list.
func (c *CLIChannel) selectByNumber(line string) *protocol.SelectedQuickReply {
	n, err := strconv.Atoi(line)
	if err != nil {
		return nil
	}
	c.optMu.Lock()
	defer c.optMu.Unlock()
	if n < 1 || n > len(c.lastOptions) {
		return nil
	}
	opt := c.lastOptions[n-1]
	return &protocol.SelectedQuickReply{ID: opt.ID, Text: opt.Text}
}

func (c *CLIChannel) Send(ctx context.Context, msg *protocol.ResponseMessage) error {
	var b strings.Builder
	b.WriteString("luna> ")
	b.WriteString(msg.Content)
	b.WriteString("\n")

	c.optMu.Lock()
	c.lastOptions = msg.ReplyOptions
	c.optMu.Unlock()
	for i, opt := range msg.ReplyOptions {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, opt.Text)
	}
	if msg.ContentType == protocol.ContentDocument && len(msg.BinaryContent) > 0 {
		name, _ := msg.Metadata["document_name"].(string)
		fmt.Fprintf(&b, "  (document: %s, %d bytes)\n", name, len(msg.BinaryContent))
	}

	if c.rl != nil {
		// Writing through readline keeps the prompt intact.
		if _, err := c.rl.Write([]byte(b.String())); err != nil {
			return err
		}
		return nil
	}
	logger.InfoC("channels", b.String())
	return nil
}
