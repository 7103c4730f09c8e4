// Package events は認証まわりのドメインイベントを外部へ配信する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// イベント種別
const (
	TypeUserLoggedIn   = "user.logged_in"
	TypeUserLoggedOut  = "user.logged_out"
	TypeAPITokenIssued = "api_token.issued"
)

// Event は配信するイベントを表す。
type Event struct {
	Type       string            `json:"type"`
	UserID     string            `json:"userId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher はイベント配信のインターフェース。
// 配信失敗がリクエスト処理を失敗させないよう、呼び出し側はエラーをログに記録するに留める。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// messageWriter は *kafka.Writer のうち本パッケージが使用するメソッド。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher はKafkaトピックへイベントをJSONで配信する。
// パーティションキーにはユーザーIDを使用し、同一ユーザーのイベント順序を保つ。
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaPublisher はKafkaPublisherを生成する。
// 書き込みは非同期で行われ、配信エラーはログに記録される。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           100 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to deliver events",
					slog.String("topic", topic),
					slog.Int("count", len(messages)),
					slog.String("error", err.Error()),
				)
			}
		},
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: time.Now}
}

// Publish はイベントをKafkaへ書き込む。OccurredAtが未設定の場合は現在時刻を設定する。
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	return nil
}

// Close は未送信のメッセージをフラッシュしてWriterを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher はイベントを破棄するPublisher。ブローカー未設定時に使用する。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close は何もしない。
func (NopPublisher) Close() error { return nil }

// New はブローカーが指定されていればKafkaPublisherを、そうでなければNopPublisherを返す。
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)
