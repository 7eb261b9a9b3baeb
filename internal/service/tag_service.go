package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// ErrNotHelper is returned when a non-helper tries to edit ticket tags.
var ErrNotHelper = errors.New("only helpers can tag tickets")

// maxTagOptions is the most options an external select accepts.
const maxTagOptions = 100

// TagService manages the tag taxonomies and the tags on individual tickets.
type TagService struct {
	tags    repository.TagRepository
	tickets repository.TicketRepository
	users   repository.UserRepository
	gateway chat.Gateway
	mirror  mirrorRenderer
	logger  *zap.Logger
}

// TagDependencies bundles collaborators for the tag service.
type TagDependencies struct {
	TagRepo    repository.TagRepository
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Gateway    chat.Gateway
	Slack      config.SlackConfig
	Logger     *zap.Logger
}

// NewTagService constructs the service.
func NewTagService(deps TagDependencies) *TagService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagService{
		tags:    deps.TagRepo,
		tickets: deps.TicketRepo,
		users:   deps.UserRepo,
		gateway: deps.Gateway,
		logger:  logger,
		mirror: mirrorRenderer{
			tickets: deps.TicketRepo,
			users:   deps.UserRepo,
			tags:    deps.TagRepo,
			slack:   deps.Slack,
		},
	}
}

// SyncResult reports the changes a Sync made.
type SyncResult struct {
	Created []string
	Deleted []string
}

// ParseTagLines turns newline separated input into trimmed, unique names.
func ParseTagLines(input string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(input, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Sync makes the tags of kind exactly match desired: missing names are
// created and names no longer listed are deleted.
func (s *TagService) Sync(ctx context.Context, kind domain.TagKind, desired []string, createdByID *int64) (SyncResult, error) {
	existing, err := s.tags.List(ctx, kind)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list %s tags: %w", kind, err)
	}

	want := make(map[string]bool, len(desired))
	for _, name := range desired {
		want[name] = true
	}
	have := make(map[string]bool, len(existing))
	var result SyncResult
	for _, tag := range existing {
		have[tag.Name] = true
		if !want[tag.Name] {
			result.Deleted = append(result.Deleted, tag.Name)
		}
	}

	if _, err := s.tags.DeleteByNames(ctx, kind, result.Deleted); err != nil {
		return SyncResult{}, fmt.Errorf("delete %s tags: %w", kind, err)
	}
	for _, name := range desired {
		if have[name] {
			continue
		}
		tag := &domain.Tag{Kind: kind, Name: name, CreatedByID: createdByID}
		if err := s.tags.Create(ctx, tag); err != nil {
			if errors.Is(err, repository.ErrDuplicateTag) {
				continue
			}
			return result, fmt.Errorf("create %s tag %q: %w", kind, name, err)
		}
		result.Created = append(result.Created, name)
	}

	s.logger.Info("synced tags",
		zap.String("kind", string(kind)),
		zap.Strings("created", result.Created),
		zap.Strings("deleted", result.Deleted))
	return result, nil
}

// List returns the tags of kind.
func (s *TagService) List(ctx context.Context, kind domain.TagKind) ([]domain.Tag, error) {
	return s.tags.List(ctx, kind)
}

// AssignQuestionTag sets or clears the question tag of the ticket whose
// backend mirror is backendKey, then re-renders the mirror. An empty or
// placeholder value clears the tag.
func (s *TagService) AssignQuestionTag(ctx context.Context, backendKey, userChatID, value string) error {
	if err := s.requireHelper(ctx, userChatID); err != nil {
		return err
	}
	ticket, err := s.tickets.GetByBackendKey(ctx, backendKey)
	if err != nil {
		return fmt.Errorf("find ticket for backend message %s: %w", backendKey, err)
	}

	patch := repository.TicketPatch{ClearQuestionTag: true}
	if id, ok := chat.ParseTagOption(value); ok {
		if _, err := s.tags.GetByID(ctx, id); err != nil {
			return fmt.Errorf("question tag %d: %w", id, err)
		}
		patch = repository.TicketPatch{QuestionTagID: &id}
	}
	updated, err := s.tickets.Update(ctx, ticket.ID, patch)
	if err != nil {
		return fmt.Errorf("update question tag: %w", err)
	}

	s.logger.Info("updated question tag", zap.Int64("ticket_id", updated.ID), zap.String("value", value))
	return s.refreshMirror(ctx, updated)
}

// SetCategoryTags replaces the category tags of the ticket whose backend
// mirror is backendKey. Values are tag ids as rendered by chat.TagOption.
func (s *TagService) SetCategoryTags(ctx context.Context, backendKey, userChatID string, values []string) error {
	if err := s.requireHelper(ctx, userChatID); err != nil {
		return err
	}
	ticket, err := s.tickets.GetByBackendKey(ctx, backendKey)
	if err != nil {
		return fmt.Errorf("find ticket for backend message %s: %w", backendKey, err)
	}

	ids := make([]int64, 0, len(values))
	for _, value := range values {
		if id, ok := chat.ParseTagOption(value); ok {
			ids = append(ids, id)
		}
	}
	if err := s.tags.SetTicketCategoryTags(ctx, ticket.ID, ids); err != nil {
		return fmt.Errorf("set category tags: %w", err)
	}
	s.logger.Info("updated category tags", zap.Int64("ticket_id", ticket.ID), zap.Int64s("tag_ids", ids))
	return nil
}

// SearchCategoryTags returns category tags whose name contains query,
// case-insensitively. Prefix matches sort first, then by name.
func (s *TagService) SearchCategoryTags(ctx context.Context, query string) ([]domain.Tag, error) {
	tags, err := s.tags.List(ctx, domain.TagKindCategory)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))

	matched := make([]domain.Tag, 0, len(tags))
	for _, tag := range tags {
		if query == "" || strings.Contains(strings.ToLower(tag.Name), query) {
			matched = append(matched, tag)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(matched[i].Name), query)
		pj := strings.HasPrefix(strings.ToLower(matched[j].Name), query)
		if pi != pj {
			return pi
		}
		return matched[i].Name < matched[j].Name
	})
	if len(matched) > maxTagOptions {
		matched = matched[:maxTagOptions]
	}
	return matched, nil
}

func (s *TagService) requireHelper(ctx context.Context, userChatID string) error {
	user, err := s.users.GetByChatID(ctx, userChatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("unknown user attempted to tag a ticket", zap.String("user", userChatID))
			return ErrNotHelper
		}
		return err
	}
	if !user.Helper {
		s.logger.Warn("unauthorized user attempted to tag a ticket", zap.String("user", userChatID))
		return ErrNotHelper
	}
	return nil
}

func (s *TagService) refreshMirror(ctx context.Context, ticket *domain.Ticket) error {
	msg, err := s.mirror.rerender(ctx, ticket)
	if err != nil {
		return err
	}
	if err := s.gateway.UpdateMessage(ctx, ticket.BackendMessageKey, msg); err != nil {
		return fmt.Errorf("update backend mirror: %w", err)
	}
	return nil
}
