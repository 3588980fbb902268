package redisx

import (
	"context"
	"testing"
)

func TestOpenWithoutAddrDisabled(t *testing.T) {
	rdb, err := Open(context.Background(), Config{})
	if err != nil || rdb != nil {
		t.Fatalf("expected disabled client, got %v err=%v", rdb, err)
	}
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected readiness error without client")
	}
}
