// Package memory provides an in-process implementation of the repository
// interfaces. It backs the service when no Postgres DSN is configured and is
// used throughout the tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// Store holds every entity behind one mutex so that the uniqueness and
// guarded-update semantics match the SQL implementation.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	tickets     map[int64]*domain.Ticket
	users       map[int64]*domain.User
	botMessages map[int64]*domain.BotMessage
	tags        map[int64]*domain.Tag
	ticketTags  map[int64]map[int64]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		tickets:     make(map[int64]*domain.Ticket),
		users:       make(map[int64]*domain.User),
		botMessages: make(map[int64]*domain.BotMessage),
		tags:        make(map[int64]*domain.Tag),
		ticketTags:  make(map[int64]map[int64]struct{}),
	}
}

// SetClock overrides the clock used for created_at columns.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Tickets exposes the ticket repository.
func (s *Store) Tickets() repository.TicketRepository { return &ticketStore{s} }

// Users exposes the user repository.
func (s *Store) Users() repository.UserRepository { return &userStore{s} }

// BotMessages exposes the bot message repository.
func (s *Store) BotMessages() repository.BotMessageRepository { return &botMessageStore{s} }

// Tags exposes the tag repository.
func (s *Store) Tags() repository.TagRepository { return &tagStore{s} }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- tickets

type ticketStore struct{ s *Store }

func (t *ticketStore) Create(_ context.Context, ticket *domain.Ticket, reply *domain.BotMessage) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tickets {
		if existing.QuestionMessageKey == ticket.QuestionMessageKey {
			return repository.ErrDuplicateTicket
		}
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusOpen
	}
	ticket.ID = s.id()
	ticket.CreatedAt = s.now()
	stored := *ticket
	s.tickets[ticket.ID] = &stored

	if reply != nil {
		reply.ID = s.id()
		reply.TicketID = ticket.ID
		reply.CreatedAt = s.now()
		msg := *reply
		s.botMessages[reply.ID] = &msg
	}
	return nil
}

func (t *ticketStore) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	return t.find(func(tk *domain.Ticket) bool { return tk.ID == id })
}

func (t *ticketStore) GetByQuestionKey(_ context.Context, key string) (*domain.Ticket, error) {
	return t.find(func(tk *domain.Ticket) bool { return tk.QuestionMessageKey == key })
}

func (t *ticketStore) GetOpenByQuestionKey(_ context.Context, key string) (*domain.Ticket, error) {
	return t.find(func(tk *domain.Ticket) bool {
		return tk.QuestionMessageKey == key && tk.Status != domain.TicketStatusClosed
	})
}

func (t *ticketStore) GetByBackendKey(_ context.Context, key string) (*domain.Ticket, error) {
	return t.find(func(tk *domain.Ticket) bool { return tk.BackendMessageKey == key })
}

func (t *ticketStore) find(match func(*domain.Ticket) bool) (*domain.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tk := range t.s.tickets {
		if match(tk) {
			found := *tk
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *ticketStore) Update(_ context.Context, id int64, patch repository.TicketPatch) (*domain.Ticket, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.RequireStatus != nil && tk.Status != *patch.RequireStatus {
		return nil, repository.ErrNotFound
	}
	if patch.RequireNotStatus != nil && tk.Status == *patch.RequireNotStatus {
		return nil, repository.ErrNotFound
	}

	if patch.Status != nil {
		tk.Status = *patch.Status
	}
	if patch.AssignedToID != nil {
		tk.AssignedToID = cloneInt(patch.AssignedToID)
	}
	if patch.AssignedAtIfUnset != nil && tk.AssignedAt == nil {
		at := *patch.AssignedAtIfUnset
		tk.AssignedAt = &at
	}
	if patch.ClearClosed {
		tk.ClosedByID = nil
		tk.ClosedAt = nil
	} else {
		if patch.ClosedByID != nil {
			tk.ClosedByID = cloneInt(patch.ClosedByID)
		}
		if patch.ClosedAt != nil {
			at := *patch.ClosedAt
			tk.ClosedAt = &at
		}
	}
	if patch.ReopenedByID != nil {
		tk.ReopenedByID = cloneInt(patch.ReopenedByID)
	}
	if patch.BackendMessageKey != nil {
		tk.BackendMessageKey = *patch.BackendMessageKey
	}
	if patch.LastMessageAt != nil {
		at := *patch.LastMessageAt
		tk.LastMessageAt = &at
	}
	if patch.LastMessageBy != nil {
		by := *patch.LastMessageBy
		tk.LastMessageBy = &by
	}
	if patch.ClearQuestionTag {
		tk.QuestionTagID = nil
	} else if patch.QuestionTagID != nil {
		tk.QuestionTagID = cloneInt(patch.QuestionTagID)
	}
	if patch.Title != nil {
		title := *patch.Title
		tk.Title = &title
	}

	updated := *tk
	return &updated, nil
}

func (t *ticketStore) Delete(_ context.Context, id int64) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return repository.ErrNotFound
	}
	s.deleteTicketLocked(id)
	return nil
}

func (t *ticketStore) DeleteByQuestionKey(_ context.Context, key string) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tk := range s.tickets {
		if tk.QuestionMessageKey == key {
			s.deleteTicketLocked(id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) deleteTicketLocked(id int64) {
	delete(s.tickets, id)
	delete(s.ticketTags, id)
	for msgID, msg := range s.botMessages {
		if msg.TicketID == id {
			delete(s.botMessages, msgID)
		}
	}
}

func (t *ticketStore) Count(ctx context.Context, filter repository.TicketFilter) (int, error) {
	filter.Limit = 0
	tickets, err := t.List(ctx, filter)
	return len(tickets), err
}

func (t *ticketStore) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var result []domain.Ticket
	for _, tk := range t.s.tickets {
		if matches(tk, filter) {
			result = append(result, *tk)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		ka, kb := a.CreatedAt, b.CreatedAt
		if filter.Order == repository.OrderLastMessageAsc {
			ka, kb = lastActivity(&a), lastActivity(&b)
		}
		if !ka.Equal(kb) {
			return ka.Before(kb)
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matches(tk *domain.Ticket, f repository.TicketFilter) bool {
	if f.OpenedByID != nil && tk.OpenedByID != *f.OpenedByID {
		return false
	}
	if f.ClosedByID != nil && (tk.ClosedByID == nil || *tk.ClosedByID != *f.ClosedByID) {
		return false
	}
	if f.ExcludeID != nil && tk.ID == *f.ExcludeID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, tk.Status) {
		return false
	}
	if len(f.ExcludeStatuses) > 0 && containsStatus(f.ExcludeStatuses, tk.Status) {
		return false
	}
	if f.CreatedFrom != nil && tk.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && tk.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.LastActivityTo != nil && !lastActivity(tk).Before(*f.LastActivityTo) {
		return false
	}
	if f.LastMessageByNot != nil && tk.LastMessageBy != nil && *tk.LastMessageBy == *f.LastMessageByNot {
		return false
	}
	return true
}

func lastActivity(tk *domain.Ticket) time.Time {
	if tk.LastMessageAt != nil {
		return *tk.LastMessageAt
	}
	return tk.CreatedAt
}

func containsStatus(list []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func cloneInt(v *int64) *int64 {
	c := *v
	return &c
}

// --- users

type userStore struct{ s *Store }

func (u *userStore) Upsert(_ context.Context, chatUserID, username string) (*domain.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ChatUserID == chatUserID {
			user.Username = username
			found := *user
			return &found, nil
		}
	}
	user := &domain.User{ID: s.id(), ChatUserID: chatUserID, Username: username, CreatedAt: s.now()}
	s.users[user.ID] = user
	created := *user
	return &created, nil
}

func (u *userStore) GetByID(_ context.Context, id int64) (*domain.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if user, ok := u.s.users[id]; ok {
		found := *user
		return &found, nil
	}
	return nil, repository.ErrNotFound
}

func (u *userStore) GetByChatID(_ context.Context, chatUserID string) (*domain.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.ChatUserID == chatUserID {
			found := *user
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u *userStore) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	var result []domain.User
	for _, user := range u.s.users {
		if filter.HelpersOnly && !user.Helper {
			continue
		}
		result = append(result, *user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (u *userStore) SetRoles(_ context.Context, chatUserID string, helper, admin bool) (*domain.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ChatUserID == chatUserID {
			user.Helper, user.Admin = helper, admin
			found := *user
			return &found, nil
		}
	}
	user := &domain.User{ID: s.id(), ChatUserID: chatUserID, Helper: helper, Admin: admin, CreatedAt: s.now()}
	s.users[user.ID] = user
	created := *user
	return &created, nil
}

// --- bot messages

type botMessageStore struct{ s *Store }

func (b *botMessageStore) Create(_ context.Context, msg *domain.BotMessage) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[msg.TicketID]; !ok {
		return repository.ErrNotFound
	}
	msg.ID = s.id()
	msg.CreatedAt = s.now()
	stored := *msg
	s.botMessages[msg.ID] = &stored
	return nil
}

func (b *botMessageStore) ListByTicket(_ context.Context, ticketID int64) ([]domain.BotMessage, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var result []domain.BotMessage
	for _, msg := range b.s.botMessages {
		if msg.TicketID == ticketID {
			result = append(result, *msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (b *botMessageStore) Delete(_ context.Context, id int64) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.botMessages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(b.s.botMessages, id)
	return nil
}

func (b *botMessageStore) DeleteByKey(_ context.Context, channelID, messageKey string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for id, msg := range b.s.botMessages {
		if msg.ChannelID == channelID && msg.MessageKey == messageKey {
			delete(b.s.botMessages, id)
		}
	}
	return nil
}

// --- tags

type tagStore struct{ s *Store }

func (t *tagStore) List(_ context.Context, kind domain.TagKind) ([]domain.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var result []domain.Tag
	for _, tag := range t.s.tags {
		if tag.Kind == kind {
			result = append(result, *tag)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (t *tagStore) GetByID(_ context.Context, id int64) (*domain.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if tag, ok := t.s.tags[id]; ok {
		found := *tag
		return &found, nil
	}
	return nil, repository.ErrNotFound
}

func (t *tagStore) Create(_ context.Context, tag *domain.Tag) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tags {
		if existing.Kind == tag.Kind && existing.Name == tag.Name {
			return repository.ErrDuplicateTag
		}
	}
	tag.ID = s.id()
	tag.CreatedAt = s.now()
	stored := *tag
	s.tags[tag.ID] = &stored
	return nil
}

func (t *tagStore) DeleteByNames(_ context.Context, kind domain.TagKind, names []string) (int64, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	var removed int64
	for id, tag := range s.tags {
		if _, ok := wanted[tag.Name]; !ok || tag.Kind != kind {
			continue
		}
		delete(s.tags, id)
		removed++
		for _, links := range s.ticketTags {
			delete(links, id)
		}
		for _, tk := range s.tickets {
			if tk.QuestionTagID != nil && *tk.QuestionTagID == id {
				tk.QuestionTagID = nil
			}
		}
	}
	return removed, nil
}

func (t *tagStore) SetTicketCategoryTags(_ context.Context, ticketID int64, tagIDs []int64) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return repository.ErrNotFound
	}
	links := make(map[int64]struct{}, len(tagIDs))
	for _, id := range tagIDs {
		if _, ok := s.tags[id]; ok {
			links[id] = struct{}{}
		}
	}
	s.ticketTags[ticketID] = links
	return nil
}

func (t *tagStore) ListTicketCategoryTags(_ context.Context, ticketID int64) ([]domain.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var result []domain.Tag
	for id := range t.s.ticketTags[ticketID] {
		if tag, ok := t.s.tags[id]; ok {
			result = append(result, *tag)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}
