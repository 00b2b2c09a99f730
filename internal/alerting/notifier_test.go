package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Text: "*hi*", SnapshotID: 1}); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] != "*hi*" {
		t.Fatalf("text 不正确: %#v", received["text"])
	}
	if received["parse_mode"] != "Markdown" || received["disable_web_page_preview"] != true {
		t.Fatalf("应使用 Markdown 且关闭预览: %#v", received)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Text: "x"}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestDiscordNotifier(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, "bot", time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Text: "hello"}); err != nil {
		t.Fatalf("Discord Notify 应成功: %v", err)
	}
	if received["content"] != "hello" || received["username"] != "bot" {
		t.Fatalf("Discord 请求体不正确: %#v", received)
	}
}

func TestDiscordNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, "", time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Text: "hello"}); err == nil {
		t.Fatal("400 应报错")
	}
}

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(ctx context.Context, note Notification) error {
	s.calls++
	return s.err
}

func TestMultiNotifierAnySuccess(t *testing.T) {
	failing := &stubNotifier{name: "a", err: errors.New("down")}
	working := &stubNotifier{name: "b"}

	multi := NewMultiNotifier(testLogger(), failing, working)
	if err := multi.Notify(context.Background(), Notification{}); err != nil {
		t.Fatalf("任一渠道成功应视为成功: %v", err)
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Fatal("应向所有渠道发送")
	}
}

func TestMultiNotifierAllFail(t *testing.T) {
	multi := NewMultiNotifier(testLogger(),
		&stubNotifier{name: "a", err: errors.New("down")},
		&stubNotifier{name: "b", err: errors.New("down")},
	)
	err := multi.Notify(context.Background(), Notification{})
	if err == nil || !strings.Contains(err.Error(), "a: down") || !strings.Contains(err.Error(), "b: down") {
		t.Fatalf("全部失败应汇总错误: %v", err)
	}

	if err := NewMultiNotifier(testLogger()).Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("无渠道应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
