package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
)

func TestUserIDs(t *testing.T) {
	if got := userIDs(1, "p", 1, nil); len(got) != 1 || got[0] != "p" {
		t.Fatalf("unexpected single id %v", got)
	}
	if got := userIDs(3, "p", 5, nil); len(got) != 3 || got[0] != "p-5" || got[2] != "p-7" {
		t.Fatalf("unexpected ids %v", got)
	}
	if got := userIDs(1, "p", 1, []string{"alice"}); got[0] != "alice" {
		t.Fatalf("expected explicit id, got %v", got)
	}
}

func TestGenerateTokens(t *testing.T) {
	now := time.Now()
	tokens, err := generateTokens("s3cret", time.Hour, []string{"alice", "bob"}, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	parsed, err := jwt.Parse(tokens[1], func(*jwt.Token) (any, error) { return []byte("s3cret"), nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "bob" {
		t.Fatalf("unexpected sub %v", claims["sub"])
	}

	if _, err := generateTokens("", time.Hour, []string{"alice"}, now); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || len(got) != 2 || got[1] != "b" {
		t.Fatalf("unexpected file contents %q: %v", data, err)
	}
}
