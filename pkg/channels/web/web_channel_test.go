package web_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gptbridge/pkg/api"
	"gptbridge/pkg/channels/web"
	"gptbridge/pkg/llm"
	"gptbridge/pkg/session"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeHistory map[string][]session.Turn

func (f fakeHistory) History(id string) []session.Turn { return f[id] }

type fakeGateway struct {
	msgs chan *api.UnifiedMessage
}

func (g *fakeGateway) OnMessage(channelID string, msg *api.UnifiedMessage) { g.msgs <- msg }
func (g *fakeGateway) SendReply(api.SessionContext, string) error          { return nil }
func (g *fakeGateway) StreamReply(api.SessionContext, <-chan llm.ContentBlock) error {
	return nil
}
func (g *fakeGateway) SendSignal(api.SessionContext, string) error { return nil }

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) web.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f web.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	return f
}

func receive(t *testing.T, gw *fakeGateway) *api.UnifiedMessage {
	t.Helper()
	select {
	case msg := <-gw.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message reached the gateway")
		return nil
	}
}

func TestWebChannelRoundTrip(t *testing.T) {
	history := fakeHistory{"web_c1": {
		session.NewTurn(session.RoleUser, "q"),
		session.NewTurn(session.RoleAssistant, "a"),
	}}
	ch := web.NewWebChannel(web.WebConfig{}, history)
	gw := &fakeGateway{msgs: make(chan *api.UnifiedMessage, 4)}
	srv := httptest.NewServer(ch.Handler(gw))
	defer srv.Close()

	conn := dial(t, srv, "chat=c1&username=ana")

	f := readFrame(t, conn)
	if f.Type != "history" {
		t.Fatalf("first frame = %+v", f)
	}
	if turns, ok := f.Data.([]any); !ok || len(turns) != 2 {
		t.Errorf("history data = %#v", f.Data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hola"}`)); err != nil {
		t.Fatal(err)
	}
	msg := receive(t, gw)
	if msg.Content != "hola" || msg.Session.ConversationID() != "web_c1" || msg.Session.Username != "ana" {
		t.Errorf("message = %+v", msg)
	}

	if err := ch.SendSignal(msg.Session, "thinking"); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "signal" || f.Value != "thinking" {
		t.Errorf("signal frame = %+v", f)
	}

	blocks := make(chan llm.ContentBlock, 2)
	blocks <- llm.NewTextBlock("hel")
	blocks <- llm.NewTextBlock("lo")
	close(blocks)
	if err := ch.Stream(msg.Session, blocks); err != nil {
		t.Fatal(err)
	}
	var text strings.Builder
	for {
		f := readFrame(t, conn)
		if f.Type == "done" {
			break
		}
		if f.Type != llm.BlockTypeText {
			t.Fatalf("unexpected frame %+v", f)
		}
		text.WriteString(f.Text)
	}
	if text.String() != "hello" {
		t.Errorf("streamed %q", text.String())
	}
}

func TestWebChannelPlainTextAndDefaultChat(t *testing.T) {
	ch := web.NewWebChannel(web.WebConfig{}, nil)
	gw := &fakeGateway{msgs: make(chan *api.UnifiedMessage, 1)}
	srv := httptest.NewServer(ch.Handler(gw))
	defer srv.Close()

	conn := dial(t, srv, "")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("plain words")); err != nil {
		t.Fatal(err)
	}
	msg := receive(t, gw)
	if msg.Content != "plain words" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Session.ChatID == "" || msg.Session.ChatID != msg.Session.UserID {
		t.Errorf("session = %+v", msg.Session)
	}

	if err := ch.Send(msg.Session, "reply"); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != llm.BlockTypeText || f.Text != "reply" {
		t.Errorf("reply frame = %+v", f)
	}
	if f := readFrame(t, conn); f.Type != "done" {
		t.Errorf("want done, got %+v", f)
	}
}

func TestWebChannelUnknownUser(t *testing.T) {
	ch := web.NewWebChannel(web.WebConfig{}, nil)
	s := api.SessionContext{ChannelID: web.ChannelID, UserID: "gone", ChatID: "x"}
	if err := ch.Send(s, "hi"); err == nil {
		t.Error("send to unknown user succeeded")
	}

	blocks := make(chan llm.ContentBlock, 1)
	blocks <- llm.NewTextBlock("x")
	close(blocks)
	if err := ch.Stream(s, blocks); err == nil {
		t.Error("stream to unknown user succeeded")
	}
}
