package convcache

import (
	"testing"
	"time"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func snapshot() []model.Conversation {
	return []model.Conversation{
		{
			ID:            1,
			WabaAccountID: 10,
			CustomerPhone: "+15550001111",
			Messages: []model.Message{
				{ID: 100, Content: "A", Direction: model.DirectionOutbound, Status: model.StatusSent, CreatedAt: t0},
			},
		},
		{
			ID:            2,
			WabaAccountID: 10,
			CustomerPhone: "+15550002222",
			Messages: []model.Message{
				{ID: 200, Content: "hi", Direction: model.DirectionInbound, Status: model.StatusReceived, CreatedAt: t0.Add(-time.Hour)},
			},
		},
	}
}

func hydrated(t *testing.T, onRefresh func()) *Cache {
	t.Helper()
	c := New(onRefresh)
	if !c.Hydrate(c.BeginRefresh(), snapshot()) {
		t.Fatal("hydrate rejected")
	}
	return c
}

func assertInvariant(t *testing.T, c *Cache) {
	t.Helper()
	for _, conv := range c.Conversations() {
		if len(conv.Messages) == 0 {
			continue
		}
		last := conv.Messages[len(conv.Messages)-1]
		if !conv.LastMessageTime.Equal(last.CreatedAt) {
			t.Errorf("conversation %d: last_message_time %v != last message %v",
				conv.ID, conv.LastMessageTime, last.CreatedAt)
		}
		if conv.LastMessage != last.Content {
			t.Errorf("conversation %d: last_message %q != %q", conv.ID, conv.LastMessage, last.Content)
		}
	}
}

func TestHydrate_OrdersByRecency(t *testing.T) {
	c := hydrated(t, nil)

	conversations := c.Conversations()
	if len(conversations) != 2 {
		t.Fatalf("len = %d", len(conversations))
	}
	if conversations[0].ID != 1 {
		t.Errorf("most recent conversation = %d, want 1", conversations[0].ID)
	}
	assertInvariant(t, c)
}

func TestHydrate_StaleEpochDiscarded(t *testing.T) {
	c := New(nil)

	stale := c.BeginRefresh()
	fresh := c.BeginRefresh()

	if !c.Hydrate(fresh, snapshot()) {
		t.Fatal("fresh hydrate rejected")
	}
	if c.Hydrate(stale, nil) {
		t.Fatal("stale hydrate applied")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d after stale hydrate, want 2", c.Len())
	}
}

func TestApplyRemoteMessage_Dedupes(t *testing.T) {
	c := hydrated(t, nil)

	msg := model.Message{ID: 101, Content: "B", Direction: model.DirectionInbound, Status: model.StatusReceived, CreatedAt: t0.Add(time.Minute)}
	c.ApplyRemoteMessage(1, msg, "")
	c.ApplyRemoteMessage(1, msg, "")

	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conv.Messages))
	}
	seen := map[int64]bool{}
	for _, m := range conv.Messages {
		if seen[m.ID] {
			t.Errorf("duplicate message id %d", m.ID)
		}
		seen[m.ID] = true
	}
	assertInvariant(t, c)
}

func TestApplyRemoteMessage_UnknownConversationRequestsRefresh(t *testing.T) {
	refreshed := false
	c := hydrated(t, func() { refreshed = true })

	c.ApplyRemoteMessage(999, model.Message{ID: 1, Content: "x", CreatedAt: t0}, "")
	if !refreshed {
		t.Error("refresh not requested for unknown conversation")
	}
}

func TestOptimisticSend_ConfirmedByREST(t *testing.T) {
	c := hydrated(t, nil)

	// Operator sends "hello" at 10:05; the cache immediately shows it.
	provID, _, ok := c.ApplyOptimisticSend(1, "hello", t0.Add(5*time.Minute))
	if !ok {
		t.Fatal("optimistic send rejected")
	}
	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conv.Messages))
	}
	if got := conv.Messages[1]; got.ID != provID || got.Status != model.StatusSent || got.Content != "hello" {
		t.Errorf("optimistic message = %+v", got)
	}
	assertInvariant(t, c)

	// Server confirms with id 42; the provisional entry is replaced, not duplicated.
	c.ConfirmSend(1, provID, model.Message{
		ID: 42, Content: "hello", Direction: model.DirectionOutbound,
		Status: model.StatusSent, CreatedAt: t0.Add(5 * time.Minute),
	})
	conv, _ = c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages after confirm = %d, want 2", len(conv.Messages))
	}
	if conv.Messages[1].ID != 42 {
		t.Errorf("confirmed id = %d, want 42", conv.Messages[1].ID)
	}
	assertInvariant(t, c)
}

func TestOptimisticSend_StreamBeatsREST(t *testing.T) {
	c := hydrated(t, nil)

	provID, corrID, _ := c.ApplyOptimisticSend(1, "hello", t0.Add(5*time.Minute))

	// Push event with the authoritative identity arrives first, echoing
	// the correlation id.
	confirmed := model.Message{ID: 42, Content: "hello", Direction: model.DirectionOutbound, Status: model.StatusSent, CreatedAt: t0.Add(5 * time.Minute)}
	c.ApplyRemoteMessage(1, confirmed, corrID)

	// Then the REST response lands for the same send.
	c.ConfirmSend(1, provID, confirmed)

	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (no duplicate)", len(conv.Messages))
	}
	if conv.Messages[1].ID != 42 {
		t.Errorf("id = %d, want 42", conv.Messages[1].ID)
	}
}

func TestOptimisticSend_HeuristicMatchWithoutCorrelation(t *testing.T) {
	c := hydrated(t, nil)

	c.ApplyOptimisticSend(1, "hello", t0.Add(5*time.Minute))

	// Server does not echo correlation ids; the event matches on
	// conversation + content + approximate timestamp.
	c.ApplyRemoteMessage(1, model.Message{
		ID: 42, Content: "hello", Direction: model.DirectionOutbound,
		Status: model.StatusSent, CreatedAt: t0.Add(5*time.Minute + 10*time.Second),
	}, "")

	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conv.Messages))
	}
	if conv.Messages[1].ID != 42 {
		t.Errorf("id = %d, want 42", conv.Messages[1].ID)
	}
}

func TestMarkSendFailed_StaysVisible(t *testing.T) {
	c := hydrated(t, nil)

	provID, _, _ := c.ApplyOptimisticSend(1, "hello", t0.Add(5*time.Minute))
	c.MarkSendFailed(1, provID)

	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 2 {
		t.Fatalf("failed message was removed")
	}
	if conv.Messages[1].Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", conv.Messages[1].Status)
	}
}

func TestTakeFailedSend(t *testing.T) {
	c := hydrated(t, nil)

	provID, _, ok := c.ApplyOptimisticSend(1, "try again", t0.Add(time.Minute))
	if !ok {
		t.Fatal("optimistic send rejected")
	}
	c.MarkSendFailed(1, provID)

	content, ok := c.TakeFailedSend(1)
	if !ok || content != "try again" {
		t.Fatalf("TakeFailedSend = %q, %v", content, ok)
	}

	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 1 {
		t.Errorf("messages = %d, want the failed copy removed", len(conv.Messages))
	}
	assertInvariant(t, c)

	if _, ok := c.TakeFailedSend(1); ok {
		t.Error("second take found a failed send")
	}
}

func TestTakeFailedSend_IgnoresServerFailures(t *testing.T) {
	c := hydrated(t, nil)

	// A failure reported against a confirmed server message id is not a
	// local retry candidate.
	c.ApplyStatusUpdate(100, model.StatusFailed)

	if content, ok := c.TakeFailedSend(1); ok {
		t.Errorf("took server-side failure %q", content)
	}
	conv, _ := c.Conversation(1)
	if len(conv.Messages) != 1 {
		t.Errorf("messages = %d, want untouched", len(conv.Messages))
	}
}

func TestApplyStatusUpdate_ForwardOnly(t *testing.T) {
	c := hydrated(t, nil)

	c.ApplyStatusUpdate(100, model.StatusDelivered)
	conv, _ := c.Conversation(1)
	if conv.Messages[0].Status != model.StatusDelivered {
		t.Fatalf("status = %s, want delivered", conv.Messages[0].Status)
	}

	// An earlier-queued event arriving late must not regress the status.
	c.ApplyStatusUpdate(100, model.StatusSent)
	conv, _ = c.Conversation(1)
	if conv.Messages[0].Status != model.StatusDelivered {
		t.Errorf("status regressed to %s", conv.Messages[0].Status)
	}

	c.ApplyStatusUpdate(100, model.StatusRead)
	conv, _ = c.Conversation(1)
	if conv.Messages[0].Status != model.StatusRead {
		t.Errorf("status = %s, want read", conv.Messages[0].Status)
	}
}

func TestApplyStatusUpdate_UnknownMessageRequestsRefresh(t *testing.T) {
	refreshed := false
	c := hydrated(t, func() { refreshed = true })

	c.ApplyStatusUpdate(12345, model.StatusDelivered)
	if !refreshed {
		t.Error("refresh not requested for unknown message")
	}
}

func TestRecencyReorderOnNewMessage(t *testing.T) {
	c := hydrated(t, nil)

	// Conversation 2 receives a newer message and moves to the front.
	c.ApplyRemoteMessage(2, model.Message{
		ID: 201, Content: "newest", Direction: model.DirectionInbound,
		Status: model.StatusReceived, CreatedAt: t0.Add(time.Hour),
	}, "")

	conversations := c.Conversations()
	if conversations[0].ID != 2 {
		t.Errorf("front conversation = %d, want 2", conversations[0].ID)
	}
	assertInvariant(t, c)
}

func TestInsertMessage_OutOfOrderTimestamps(t *testing.T) {
	c := hydrated(t, nil)

	// A delayed event with an older timestamp lands after a newer one.
	c.ApplyRemoteMessage(1, model.Message{ID: 102, Content: "late", Direction: model.DirectionInbound, Status: model.StatusReceived, CreatedAt: t0.Add(2 * time.Minute)}, "")
	c.ApplyRemoteMessage(1, model.Message{ID: 101, Content: "early", Direction: model.DirectionInbound, Status: model.StatusReceived, CreatedAt: t0.Add(time.Minute)}, "")

	conv, _ := c.Conversation(1)
	var ids []int64
	for _, m := range conv.Messages {
		ids = append(ids, m.ID)
	}
	want := []int64{100, 101, 102}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
	assertInvariant(t, c)
}
