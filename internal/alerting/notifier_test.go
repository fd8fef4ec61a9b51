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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/storage"
)

func testNote() Notification {
	return Notification{
		SignalID: "sig-1",
		Mode:     "live",
		Posture:  "open",
		Signal: storage.CatalystSignal{
			Keyword: "crude oil",
			Ticker:  "ONGC.NS",
			Action:  storage.ActionBuyWatch,
			News:    storage.NewsSnapshot{Title: "OPEC cuts output", Link: "https://example.com/a"},
			Market: storage.MarketSnapshot{
				Price:       decimal.RequireFromString("102.5"),
				ChangePct:   decimal.RequireFromString("2.5"),
				VolumeRatio: decimal.RequireFromString("2.4"),
				VolumeSpike: true,
			},
			Analysis: storage.AnalysisSnapshot{Confidence: 7, Sentiment: storage.SentimentBullish},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "BUY_WATCH ONGC.NS") || !strings.Contains(text, "(spike)") {
		t.Fatalf("text 内容不正确: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("down")
}

func TestMultiDeliversToAll(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	err := Multi{a, b}.Notify(context.Background(), testNote())
	if err == nil {
		t.Fatal("应返回合并错误")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("每个通道都应调用一次: %d %d", a.calls, b.calls)
	}
}

func TestHubBroadcastsSignal(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("连接 websocket 失败: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("订阅者未注册")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("广播失败: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			SignalID string `json:"signal_id"`
			Signal   struct {
				Ticker string `json:"ticker"`
			} `json:"signal"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("读取消息失败: %v", err)
	}
	if msg.Type != "signal" || msg.Payload.SignalID != "sig-1" || msg.Payload.Signal.Ticker != "ONGC.NS" {
		t.Fatalf("消息内容不正确: %#v", msg)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
