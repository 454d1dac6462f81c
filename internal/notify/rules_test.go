package notify

import (
	"testing"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
)

func TestMatch(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "urgent", When: `content.contains("urgent")`},
		{Name: "vip", When: `customer_phone == "+15550001111"`},
	})
	if e.Len() != 2 {
		t.Fatalf("rules compiled = %d, want 2", e.Len())
	}

	conv := model.Conversation{CustomerPhone: "+15550009999"}
	msg := model.Message{Content: "this is urgent please", Direction: model.DirectionInbound}
	rule, ok := e.Match(conv, msg)
	if !ok || rule != "urgent" {
		t.Errorf("Match = %q, %v", rule, ok)
	}

	vip := model.Conversation{CustomerPhone: "+15550001111"}
	rule, ok = e.Match(vip, model.Message{Content: "hello", Direction: model.DirectionInbound})
	if !ok || rule != "vip" {
		t.Errorf("Match = %q, %v", rule, ok)
	}

	if _, ok := e.Match(conv, model.Message{Content: "hello"}); ok {
		t.Error("unexpected match")
	}
}

func TestBrokenRulesSkipped(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "broken", When: `content.`},
		{Name: "not-bool", When: `content`},
		{Name: "fine", When: `direction == "inbound"`},
	})
	if e.Len() != 1 {
		t.Errorf("rules compiled = %d, want 1", e.Len())
	}

	rule, ok := e.Match(model.Conversation{}, model.Message{Direction: model.DirectionInbound})
	if !ok || rule != "fine" {
		t.Errorf("Match = %q, %v", rule, ok)
	}
}

func TestEmptyEngine(t *testing.T) {
	e := NewEngine(nil)
	if _, ok := e.Match(model.Conversation{}, model.Message{Content: "x"}); ok {
		t.Error("empty engine matched")
	}
}
