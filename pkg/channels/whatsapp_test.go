package channels

import (
	"testing"

	"github.com/lunalabs/luna/pkg/protocol"
)

const whatsappTextWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [{
          "from": "919876543210",
          "id": "wamid.abc",
          "type": "text",
          "text": {"body": "I want my kundli"}
        }]
      }
    }]
  }]
}`

const whatsappButtonWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [{
          "from": "919876543210",
          "id": "wamid.def",
          "type": "interactive",
          "interactive": {
            "type": "button_reply",
            "button_reply": {"id": "generate_kundli__generate_kundli", "title": "Generate Kundli"}
          }
        }]
      }
    }]
  }]
}`

const whatsappStatusWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "statuses": [{"id": "wamid.ghi", "status": "delivered"}]
      }
    }]
  }]
}`

func TestParseWhatsAppWebhook_Text(t *testing.T) {
	msgs := ParseWhatsAppWebhook([]byte(whatsappTextWebhook))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.From != "919876543210" || m.MessageID != "wamid.abc" {
		t.Errorf("addressing wrong: %+v", m)
	}
	if m.Content != "I want my kundli" || m.Selected != nil {
		t.Errorf("content wrong: %+v", m)
	}
}

func TestParseWhatsAppWebhook_ButtonReply(t *testing.T) {
	msgs := ParseWhatsAppWebhook([]byte(whatsappButtonWebhook))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	sel := msgs[0].Selected
	if sel == nil || sel.ID != "generate_kundli__generate_kundli" {
		t.Fatalf("selected reply wrong: %+v", sel)
	}
	if sel.WorkflowID() != "generate_kundli" {
		t.Errorf("workflow id = %q", sel.WorkflowID())
	}
}

func TestParseWhatsAppWebhook_SkipsStatusesAndGarbage(t *testing.T) {
	if msgs := ParseWhatsAppWebhook([]byte(whatsappStatusWebhook)); len(msgs) != 0 {
		t.Errorf("status notification produced messages: %+v", msgs)
	}
	if msgs := ParseWhatsAppWebhook([]byte("not json")); msgs != nil {
		t.Errorf("garbage produced messages: %+v", msgs)
	}
}

func TestBuildWhatsAppPayload_PlainText(t *testing.T) {
	payload := BuildWhatsAppPayload(&protocol.ResponseMessage{
		ChannelUserID: "919876543210",
		Content:       "Namaste!",
	})
	if payload["type"] != "text" || payload["to"] != "919876543210" {
		t.Errorf("payload = %+v", payload)
	}
	text := payload["text"].(map[string]any)
	if text["body"] != "Namaste!" {
		t.Errorf("body = %v", text["body"])
	}
}

func TestBuildWhatsAppPayload_ButtonsCappedAtThree(t *testing.T) {
	msg := &protocol.ResponseMessage{
		ChannelUserID: "919876543210",
		Content:       "Pick a profile",
		ReplyOptions: []protocol.QuickReplyOption{
			protocol.BuildQuickReply("generate_kundli", "select_specific_profile", "Asha", "1"),
			protocol.BuildQuickReply("generate_kundli", "select_specific_profile", "Ravi", "2"),
			protocol.BuildQuickReply("generate_kundli", "select_specific_profile", "Meera", "3"),
			protocol.BuildQuickReply("generate_kundli", "create_new", "Create new profile"),
		},
	}
	payload := BuildWhatsAppPayload(msg)
	if payload["type"] != "interactive" {
		t.Fatalf("payload type = %v", payload["type"])
	}
	interactive := payload["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	buttons := action["buttons"].([]map[string]any)
	if len(buttons) != whatsappMaxButtons {
		t.Fatalf("expected %d buttons, got %d", whatsappMaxButtons, len(buttons))
	}
	reply := buttons[0]["reply"].(map[string]any)
	if reply["id"] != "generate_kundli__select_specific_profile__1" {
		t.Errorf("button id = %v", reply["id"])
	}
}

func TestBuildWhatsAppPayload_TruncatesLongTitles(t *testing.T) {
	msg := &protocol.ResponseMessage{
		ChannelUserID: "919876543210",
		Content:       "Pick",
		ReplyOptions: []protocol.QuickReplyOption{
			{ID: "generate_kundli__select_specific_profile__1", Text: "A very long profile display name"},
		},
	}
	payload := BuildWhatsAppPayload(msg)
	interactive := payload["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	buttons := action["buttons"].([]map[string]any)
	reply := buttons[0]["reply"].(map[string]any)
	if title := reply["title"].(string); len([]rune(title)) > whatsappMaxButtonTitle {
		t.Errorf("title over cap: %q", title)
	}
}
