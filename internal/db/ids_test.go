package db

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := newID("audit")
	if !strings.HasPrefix(id, "audit_") || len(id) != len("audit_")+36 {
		t.Fatalf("id: %s", id)
	}
	if newID("audit") == id {
		t.Fatalf("ids should be unique")
	}
}
