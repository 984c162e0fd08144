// Package services – ConversationService
//
// This file implements the conversation lifecycle behind the northbound
// surface. It validates and normalizes titles, enforces tenant ownership,
// and coordinates repository operations for creating, fetching, listing
// (with pagination), and renaming conversations. All identifiers at this
// layer are internal keys; translation to partner aliases happens in the
// handlers via MappingService.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ConversationRepo defines the repository contract required by
// ConversationService.
type ConversationRepo interface {
	// CreateConversation inserts a new conversation row for the tenant user.
	CreateConversation(ctx context.Context, db *gorm.DB, tenantID, userID, title, agentCode string) (*domain.Conversation, error)

	// GetConversation fetches a conversation by internal id within a tenant.
	GetConversation(ctx context.Context, db *gorm.DB, internalID int64, tenantID string) (*domain.Conversation, error)

	// CountConversations returns the total for pagination.
	CountConversations(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, error)

	// ListConversationsPage returns a page of the tenant user's conversations.
	ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID, userID string, offset, limit int) ([]domain.Conversation, error)

	// ConversationStats returns the count and latest update time for the
	// tenant user's conversations.
	ConversationStats(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, *time.Time, error)

	// UpdateConversationTitle renames a conversation within a tenant.
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, internalID int64, tenantID, title string) error
}

// ConversationService provides conversation-level operations. It enforces
// title rules and tenant ownership constraints.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale selects the language used for locale-aware title handling.
	TitleLocale language.Tag
}

// NewConversationService constructs a ConversationService with sane defaults
// for title handling.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: 60,
		TitleLocale: language.Und,
	}
}

// Create starts a new conversation for the tenant user. The returned row
// carries the freshly generated internal id; the caller is responsible for
// registering a partner alias for it.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID, title, agentCode string) (*domain.Conversation, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = "New conversation"
	}
	return s.Repo.CreateConversation(ctx, s.DB, tenantID, userID, s.clip(title), agentCode)
}

// Get fetches a conversation by internal id, ensuring it belongs to the
// tenant. Returns ErrConversationNotFound for a valid absence.
func (s *ConversationService) Get(ctx context.Context, internalID int64, tenantID string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversation(ctx, s.DB, internalID, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

// ListPage returns a page of conversations for the tenant user along with
// the total count. It applies defaults for invalid page/pageSize.
func (s *ConversationService) ListPage(ctx context.Context, tenantID, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountConversations(ctx, s.DB, tenantID, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListConversationsPage(ctx, s.DB, tenantID, userID, offset, pageSize)
	return items, total, err
}

// UpdateTitle renames a conversation, ensuring it exists within the tenant.
// Blank titles are rejected with ErrEmptyTitle.
func (s *ConversationService) UpdateTitle(ctx context.Context, internalID int64, tenantID, title string) error {
	return s.UpdateTitleTx(ctx, s.DB, internalID, tenantID, title)
}

// UpdateTitleTx is UpdateTitle against an explicit handle, so the rename can
// join a caller-owned transaction.
func (s *ConversationService) UpdateTitleTx(ctx context.Context, tx *gorm.DB, internalID int64, tenantID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		return ErrEmptyTitle
	}
	err := s.Repo.UpdateConversationTitle(ctx, tx, internalID, tenantID, s.clip(title))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// Stats returns the conversation count and latest update time for the tenant
// user, for cheap change detection on list responses.
func (s *ConversationService) Stats(ctx context.Context, tenantID, userID string) (int64, *time.Time, error) {
	return s.Repo.ConversationStats(ctx, s.DB, tenantID, userID)
}

// DeriveTitle builds a concise conversation title from the opening prompt:
// lowercased word tokens with stop words removed, title-cased for the
// configured locale, capped at a few words. Returns "" when nothing usable
// remains; the caller decides the fallback.
func (s *ConversationService) DeriveTitle(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocaleOrDefault())
	out := make([]string, 0, maxTitleWords)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= maxTitleWords {
			break
		}
	}
	return s.clip(strings.Join(out, " "))
}

// titleLocaleOrDefault returns the configured casing locale or English.
func (s *ConversationService) titleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// clip truncates a title to the configured maximum rune length.
func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// maxTitleWords caps derived titles.
const maxTitleWords = 8

// titleWordRE extracts word tokens for title derivation.
var titleWordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// titleStopWords are filler words dropped from derived titles.
var titleStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "is": {}, "are": {}, "was": {},
	"be": {}, "my": {}, "me": {}, "i": {}, "you": {}, "please": {}, "can": {},
	"could": {}, "would": {}, "about": {}, "do": {}, "does": {}, "what": {},
	"how": {}, "why": {},
}
