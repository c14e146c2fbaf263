package telegram

import (
	"errors"
	"strings"
	"testing"

	"gptbridge/pkg/api"
	"gptbridge/pkg/llm"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

var chat = api.SessionContext{ChannelID: ChannelID, ChatID: "-100", UserID: "7"}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short", "hola", 10, []string{"hola"}},
		{"exact", "abcd", 4, []string{"abcd"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline cut", "abc\ndefgh", 5, []string{"abc\n", "defgh"}},
		{"runes", "ñññññ", 2, []string{"ññ", "ññ", "ñ"}},
		{"no limit", "abc", 0, []string{"abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendChunks(t *testing.T) {
	out := &fakeSender{}
	ch := newChannel(out, 5)

	if err := ch.Send(chat, "0123456789ab"); err != nil {
		t.Fatal(err)
	}
	if got := out.texts(); len(got) != 3 || got[0] != "01234" || got[2] != "ab" {
		t.Errorf("sent %q", got)
	}
	if m := out.sent[0].(tgbotapi.MessageConfig); m.ChatID != -100 {
		t.Errorf("chat id = %d", m.ChatID)
	}

	if err := ch.Send(api.SessionContext{ChatID: "abc"}, "x"); err == nil {
		t.Error("non-numeric chat id accepted")
	}

	out.err = errors.New("blocked")
	if err := ch.Send(chat, "x"); err == nil {
		t.Error("send error swallowed")
	}
}

func TestStream(t *testing.T) {
	out := &fakeSender{}
	ch := newChannel(out, 4000)

	blocks := make(chan llm.ContentBlock, 3)
	blocks <- llm.NewThinkingBlock("hmm")
	blocks <- llm.NewTextBlock("hel")
	blocks <- llm.NewTextBlock("lo")
	close(blocks)

	if err := ch.Stream(chat, blocks); err != nil {
		t.Fatal(err)
	}
	got := out.texts()
	if len(got) != 2 || got[0] != thinkingPrefix+"hmm" || got[1] != replyPrefix+"hello" {
		t.Errorf("sent %q", got)
	}
}

func TestSendSignal(t *testing.T) {
	out := &fakeSender{}
	ch := newChannel(out, 0)

	if err := ch.SendSignal(chat, "other"); err != nil || len(out.sent) != 0 {
		t.Fatalf("unknown signal sent %v, err %v", out.sent, err)
	}
	if err := ch.SendSignal(chat, "thinking"); err != nil {
		t.Fatal(err)
	}
	action, ok := out.sent[0].(tgbotapi.ChatActionConfig)
	if !ok || action.Action != tgbotapi.ChatTyping {
		t.Errorf("sent %#v", out.sent[0])
	}
}

func TestToUnified(t *testing.T) {
	command := &tgbotapi.Message{
		Text:     "/notools@gpt_bot hola",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 16}},
		Chat:     &tgbotapi.Chat{ID: 5},
		From:     &tgbotapi.User{ID: 9, FirstName: "Ana"},
	}

	tests := []struct {
		name    string
		msg     *tgbotapi.Message
		want    string
		wantNil bool
	}{
		{"nil message", nil, "", true},
		{"text", &tgbotapi.Message{Text: "hola", Chat: &tgbotapi.Chat{ID: 5}}, "hola", false},
		{"caption", &tgbotapi.Message{Caption: "foto", Chat: &tgbotapi.Chat{ID: 5}}, "foto", false},
		{"empty", &tgbotapi.Message{Text: "  ", Chat: &tgbotapi.Chat{ID: 5}}, "", true},
		{"command with bot name", command, "/notools hola", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toUnified(tgbotapi.Update{UpdateID: 1, Message: tt.msg})
			if tt.wantNil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil")
			}
			if got.Content != tt.want {
				t.Errorf("content = %q, want %q", got.Content, tt.want)
			}
			if got.Session.ConversationID() != "telegram_5" {
				t.Errorf("conversation = %q", got.Session.ConversationID())
			}
		})
	}

	if got := toUnified(tgbotapi.Update{Message: command}); got.Session.Username != "Ana" || got.Session.UserID != "9" {
		t.Errorf("session = %+v", got.Session)
	}
}
