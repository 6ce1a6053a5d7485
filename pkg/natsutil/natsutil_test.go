package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)

	if c.Get("traceparent") != "" {
		t.Fatal("empty carrier should return empty value")
	}
	if c.Keys() != nil {
		t.Fatal("empty carrier should have no keys")
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Fatalf("Keys = %v", c.Keys())
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("carrier must write through to the message header")
	}
}

type testPayload struct {
	ID string `json:"id"`
}

func TestMsgHandlerDecodesAndDropsMalformed(t *testing.T) {
	var got []testPayload
	h := msgHandler(func(_ context.Context, p testPayload) {
		got = append(got, p)
	})

	h(&nats.Msg{Data: []byte(`{"id": "a1"}`)})
	h(&nats.Msg{Data: []byte(`{"id":`)}) // malformed, dropped
	h(&nats.Msg{Data: []byte(`{"id": "a2"}`)})

	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("handled = %+v", got)
	}
}
