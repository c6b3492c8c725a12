package redisclient

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	redismock "github.com/go-redis/redismock/v8"
)

// TestHSet_Success verifies that HSet writes the hash on first attempt.
func TestHSet_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &Client{rdb: db}

	mock.ExpectHSet("quotes:latest:price:ETH", "usd_price", "2500.00000000").SetVal(1)

	if err := client.HSet(context.Background(), "quotes:latest:price:ETH",
		map[string]interface{}{"usd_price": "2500.00000000"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestHSet_RetryOnError ensures HSet retries on a transient Redis error.
func TestHSet_RetryOnError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &Client{rdb: db}

	mock.ExpectHSet("k", "f", "v").SetErr(redis.Nil)
	mock.ExpectHSet("k", "f", "v").SetVal(1)

	if err := client.HSet(context.Background(), "k", map[string]interface{}{"f": "v"}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPublish_CircuitBreakerOpen verifies operations short-circuit while the
// breaker is open.
func TestPublish_CircuitBreakerOpen(t *testing.T) {
	db, _ := redismock.NewClientMock()
	client := &Client{rdb: db, state: 1}

	err := client.Publish(context.Background(), "quotes:pubsub", "payload")
	if err != ErrCircuitBreakerOpen {
		t.Fatalf("err = %v; want ErrCircuitBreakerOpen", err)
	}
}
