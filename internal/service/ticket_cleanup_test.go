package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/events"
)

func deletedEvents(h *harness) *[]events.TicketDeletedPayload {
	var got []events.TicketDeletedPayload
	h.dispatcher.Subscribe(events.EventTicketDeleted, func(_ context.Context, e events.Event) error {
		got = append(got, e.Payload.(events.TicketDeletedPayload))
		return nil
	})
	return &got
}

func TestHandleDeletion_TombstoneWithOnlyBotReplies(t *testing.T) {
	h := newHarness(t)
	created := h.ask(t, questionKey, "help")
	reply := h.gw.PostedTo(helpChannel)[0]
	got := deletedEvents(h)

	err := h.svc.HandleDeletion(context.Background(), DeletionEvent{
		Channel:  helpChannel,
		Subtype:  SubtypeMessageChanged,
		Previous: &chat.Message{Key: questionKey, User: askerID},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.ticketCount(t))
	assert.Equal(t, []string{reply.Key, created.BackendMessageKey}, h.gw.DeletedKeys())
	assert.Contains(t, h.notifier.summaries(), "Removing my 1 message(s) in a thread because the question was deleted.")

	left, err := h.store.BotMessages().ListByTicket(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	require.Len(t, *got, 1)
	assert.Equal(t, events.TicketDeletedPayload{QuestionKey: questionKey, Reason: "question deleted", BotMessages: 1}, (*got)[0])
}

func TestHandleDeletion_TombstoneWithHumanReplyKeepsTicket(t *testing.T) {
	h := newHarness(t)
	h.ask(t, questionKey, "help")
	reply := h.gw.PostedTo(helpChannel)[0]
	h.gw.SeedThread(helpChannel, questionKey,
		chat.Message{Key: questionKey, User: askerID},
		chat.Message{Key: reply.Key, ThreadKey: questionKey, User: "UBOT"},
		chat.Message{Key: "1718020900.000001", ThreadKey: questionKey, User: helperID},
	)

	err := h.svc.HandleDeletion(context.Background(), DeletionEvent{
		Channel:  helpChannel,
		Subtype:  SubtypeMessageChanged,
		Previous: &chat.Message{Key: questionKey},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.ticketCount(t))
	assert.Empty(t, h.gw.Deleted)
	assert.Empty(t, h.notifier.summaries())
}

func TestHandleDeletion_MessageDeletedTearsDown(t *testing.T) {
	h := newHarness(t)
	created := h.ask(t, questionKey, "help")
	reply := h.gw.PostedTo(helpChannel)[0]
	h.reply(t, helperID, questionKey, "hello?")

	err := h.svc.HandleDeletion(context.Background(), DeletionEvent{
		Channel:  helpChannel,
		Subtype:  SubtypeMessageDeleted,
		Previous: &chat.Message{Key: questionKey},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.ticketCount(t))
	assert.Equal(t, []string{reply.Key, created.BackendMessageKey}, h.gw.DeletedKeys())
}

func TestHandleDeletion_Ignored(t *testing.T) {
	cases := []struct {
		name string
		ev   DeletionEvent
	}{
		{"other channel", DeletionEvent{Channel: "COTHER", Subtype: SubtypeMessageDeleted, Previous: &chat.Message{Key: questionKey}}},
		{"no previous message", DeletionEvent{Channel: helpChannel, Subtype: SubtypeMessageDeleted}},
		{"thread reply", DeletionEvent{Channel: helpChannel, Subtype: SubtypeMessageDeleted,
			Previous: &chat.Message{Key: "1718020900.000001", ThreadKey: questionKey}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.ask(t, questionKey, "help")

			require.NoError(t, h.svc.HandleDeletion(context.Background(), tc.ev))
			assert.Equal(t, 1, h.ticketCount(t))
			assert.Empty(t, h.gw.Deleted)
		})
	}
}

func TestHandleDeletion_UnknownThread(t *testing.T) {
	h := newHarness(t)
	err := h.svc.HandleDeletion(context.Background(), DeletionEvent{
		Channel:  helpChannel,
		Subtype:  SubtypeMessageChanged,
		Previous: &chat.Message{Key: "1.000001"},
	})
	require.NoError(t, err)
	assert.Empty(t, h.gw.Deleted)
}

func TestHandleDeletion_TombstoneWithoutTicketRemovesBotReplies(t *testing.T) {
	h := newHarness(t)
	h.gw.SeedThread(helpChannel, questionKey,
		chat.Message{Key: questionKey, User: askerID},
		chat.Message{Key: "1718020900.000001", ThreadKey: questionKey, User: "UBOT"},
	)

	err := h.svc.HandleDeletion(context.Background(), DeletionEvent{
		Channel:  helpChannel,
		Subtype:  SubtypeMessageChanged,
		Previous: &chat.Message{Key: questionKey},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1718020900.000001"}, h.gw.DeletedKeys())
}

func TestTeardown_RemovesEveryTrackedMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.helper(t, helperID)
	created := h.ask(t, questionKey, "help")
	require.NoError(t, h.svc.ReplyToTicket(ctx, created, "one more thing"))

	replies := h.gw.PostedTo(helpChannel)
	require.Len(t, replies, 2)

	require.NoError(t, h.svc.Teardown(ctx, created, "manual"))

	deleted := h.gw.DeletedKeys()
	assert.ElementsMatch(t, []string{replies[0].Key, replies[1].Key, created.BackendMessageKey}, deleted)
	assert.Equal(t, created.BackendMessageKey, deleted[len(deleted)-1])
	assert.Equal(t, 0, h.ticketCount(t))

	left, err := h.store.BotMessages().ListByTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestTeardown_AlreadyDeletedMessagesAreTolerated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	created := h.ask(t, questionKey, "help")
	h.gw.DeleteErr = func(string, string) error { return chat.ErrNotFound }

	require.NoError(t, h.svc.Teardown(ctx, created, "manual"))
	assert.Equal(t, 0, h.ticketCount(t))
}

func TestDeleteThreadBotReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	created := h.ask(t, questionKey, "help")
	require.NoError(t, h.svc.ReplyToTicket(ctx, created, "follow up"))

	removed, err := h.svc.DeleteThreadBotReplies(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, h.ticketCount(t))

	left, err := h.store.BotMessages().ListByTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.NotContains(t, h.gw.DeletedKeys(), created.BackendMessageKey)
}
