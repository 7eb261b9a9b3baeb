package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// mirrorRenderer builds the backend copy of a question posted in the ticket
// channel. It is shared by ticket creation, reopening and tag edits so the
// mirror always renders the same way.
type mirrorRenderer struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	tags    repository.TagRepository
	slack   config.SlackConfig
}

// message renders the mirror for ticket. pastTickets is the number of other
// tickets the author has opened.
func (m mirrorRenderer) message(ctx context.Context, ticket *domain.Ticket, authorChatID, reopenedByChatID string, pastTickets int) (chat.OutgoingMessage, error) {
	questionTags, err := m.tags.List(ctx, domain.TagKindQuestion)
	if err != nil {
		return chat.OutgoingMessage{}, fmt.Errorf("list question tags: %w", err)
	}

	var categoryTags []domain.Tag
	if ticket.ID != 0 {
		categoryTags, err = m.tags.ListTicketCategoryTags(ctx, ticket.ID)
		if err != nil {
			return chat.OutgoingMessage{}, fmt.Errorf("list category tags: %w", err)
		}
	}

	blocks := chat.BackendBlocks(chat.BackendMirror{
		AuthorID:      authorChatID,
		ThreadURL:     chat.Permalink(m.slack.WorkspaceURL, m.slack.HelpChannel, ticket.QuestionMessageKey),
		PastTickets:   pastTickets,
		ReopenedByID:  reopenedByChatID,
		QuestionTags:  questionTags,
		QuestionTagID: ticket.QuestionTagID,
		CategoryTags:  categoryTags,
	})

	return chat.OutgoingMessage{
		Channel: m.slack.TicketChannel,
		Text:    chat.BackendText(authorChatID, ticket.Description, reopenedByChatID != ""),
		Blocks:  blocks,
		Unfurl:  true,
	}, nil
}

// rerender rebuilds the mirror of an existing ticket, looking up the author
// and whoever reopened it.
func (m mirrorRenderer) rerender(ctx context.Context, ticket *domain.Ticket) (chat.OutgoingMessage, error) {
	author, err := m.users.GetByID(ctx, ticket.OpenedByID)
	if err != nil {
		return chat.OutgoingMessage{}, fmt.Errorf("load ticket author: %w", err)
	}

	var reopenedBy string
	if ticket.ReopenedByID != nil {
		helper, err := m.users.GetByID(ctx, *ticket.ReopenedByID)
		switch {
		case err == nil:
			reopenedBy = helper.ChatUserID
		case !errors.Is(err, repository.ErrNotFound):
			return chat.OutgoingMessage{}, err
		}
	}

	past, err := m.tickets.Count(ctx, repository.TicketFilter{OpenedByID: &author.ID, ExcludeID: &ticket.ID})
	if err != nil {
		return chat.OutgoingMessage{}, err
	}
	return m.message(ctx, ticket, author.ChatUserID, reopenedBy, past)
}
