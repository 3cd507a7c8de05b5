package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"basket/api/internal/access"
	"basket/api/internal/auth"
	"basket/api/internal/authpw"
	"basket/api/internal/config"
	"basket/api/internal/search"
	"basket/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// Item is the wire shape of a list item.
type Item struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Visibility string    `json:"visibility"`
	Completed  bool      `json:"completed"`
	Order      int       `json:"order"`
	GroupID    string    `json:"groupId"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type CreateItemInput struct {
	Text       string `json:"text"`
	Visibility string `json:"visibility"`
}

// UpdateItemInput is a partial update; nil means the field was omitted.
type UpdateItemInput struct {
	Text       *string `json:"text"`
	Completed  *bool   `json:"completed"`
	Visibility *string `json:"visibility"`
	Order      *int    `json:"order"`
}

type OrderUpdateInput struct {
	ID    string `json:"id"`
	Order *int   `json:"order"`
}

type GroupInfo struct {
	Name       string `json:"name"`
	InviteCode string `json:"inviteCode"`
}

const maxItemTextLength = 100

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error

	EnsureActiveGroup(ctx context.Context, userID, groupName string) (store.Group, error)
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	GetGroupByInviteCode(ctx context.Context, code string) (store.Group, error)
	EnsureInviteCode(ctx context.Context, groupID string) (string, error)
	SetActiveGroup(ctx context.Context, userID string, groupID *string) error

	ListItems(ctx context.Context, groupID, userID string) ([]store.Item, error)
	InsertItem(ctx context.Context, item store.Item) (store.Item, error)
	GetItem(ctx context.Context, itemID string) (store.Item, error)
	UpdateItem(ctx context.Context, itemID, groupID, userID string, patch store.ItemPatch) (store.Item, error)
	DeleteItem(ctx context.Context, itemID, groupID, userID string) error
	ReorderItems(ctx context.Context, groupID, userID string, updates []store.OrderUpdate) error

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens; backed by Redis when configured,
// otherwise by the main store.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
		search:   searchService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service) *Service {
	service := New(cfg, dataStore, searchService)
	service.sessions = sessions
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.User, error) {
	return s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.New().String()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.New().String() + uuid.New().String()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Membership directory

// ensureGroup resolves the caller to their active group, lazily creating a
// personal group when none is set. Atomicity lives in the store (single
// locked read-modify-write).
func (s *Service) ensureGroup(ctx context.Context, session Session) (store.Group, error) {
	return s.store.EnsureActiveGroup(ctx, session.UserID, session.UserName+"'s list")
}

func (s *Service) GroupInfo(ctx context.Context, session Session) (GroupInfo, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return GroupInfo{}, err
	}
	if user.ActiveGroupID == nil {
		return GroupInfo{}, errNotFound("No active group")
	}
	group, err := s.store.GetGroup(ctx, *user.ActiveGroupID)
	if err != nil {
		return GroupInfo{}, err
	}
	if group.InviteCode == "" {
		group.InviteCode, err = s.store.EnsureInviteCode(ctx, group.ID)
		if err != nil {
			return GroupInfo{}, err
		}
	}
	return GroupInfo{Name: group.Name, InviteCode: group.InviteCode}, nil
}

// JoinGroup moves the caller to the group matching the invite code. Items the
// caller created earlier stay attached to their old group.
func (s *Service) JoinGroup(ctx context.Context, session Session, inviteCode string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return "", errValidation("Invite code is required", nil)
	}
	group, err := s.store.GetGroupByInviteCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNotFound("Invalid invite code")
	}
	if err != nil {
		return "", err
	}
	if err := s.store.SetActiveGroup(ctx, session.UserID, &group.ID); err != nil {
		return "", err
	}
	return group.Name, nil
}

// LeaveGroup clears the caller's active group; the next list access creates a
// fresh one.
func (s *Service) LeaveGroup(ctx context.Context, session Session) error {
	return s.store.SetActiveGroup(ctx, session.UserID, nil)
}

// Items

func (s *Service) ListItems(ctx context.Context, session Session) ([]Item, error) {
	group, err := s.ensureGroup(ctx, session)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, group.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]Item, 0, len(items))
	for _, item := range items {
		payload = append(payload, itemPayload(item))
	}
	return payload, nil
}

func (s *Service) CreateItem(ctx context.Context, session Session, input CreateItemInput) (Item, error) {
	if err := validateItemText(input.Text); err != nil {
		return Item{}, err
	}
	visibility := input.Visibility
	if visibility == "" {
		visibility = store.VisibilityShared
	}
	if err := validateVisibility(visibility); err != nil {
		return Item{}, err
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Item{}, err
	}
	if user.ActiveGroupID == nil {
		return Item{}, errGroupMissing()
	}

	// Order starts at 0; the client decides the final position with a
	// follow-up reorder.
	item, err := s.store.InsertItem(ctx, store.Item{
		ID:         uuid.New().String(),
		Text:       input.Text,
		Visibility: visibility,
		GroupID:    *user.ActiveGroupID,
		CreatedBy:  user.ID,
	})
	if err != nil {
		return Item{}, err
	}
	s.indexItem(item)
	return itemPayload(item), nil
}

func (s *Service) UpdateItem(ctx context.Context, session Session, itemID string, input UpdateItemInput) (Item, error) {
	if input.Text == nil && input.Completed == nil && input.Visibility == nil && input.Order == nil {
		return Item{}, errValidation("Empty update", nil)
	}
	if input.Text != nil {
		if err := validateItemText(*input.Text); err != nil {
			return Item{}, err
		}
	}
	if input.Visibility != nil {
		if err := validateVisibility(*input.Visibility); err != nil {
			return Item{}, err
		}
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Item{}, err
	}
	if user.ActiveGroupID == nil {
		return Item{}, errForbidden("Forbidden")
	}

	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, errNotFound("Item not found")
	}
	if err != nil {
		return Item{}, err
	}

	switch access.ForMutation(item, user.ID, *user.ActiveGroupID, input.Visibility != nil) {
	case access.DenyHidden:
		return Item{}, errNotFound("Item not found")
	case access.DenyVisibilityChange:
		return Item{}, errForbidden("Only the creator can change visibility")
	}

	updated, err := s.store.UpdateItem(ctx, itemID, *user.ActiveGroupID, user.ID, store.ItemPatch{
		Text:       input.Text,
		Completed:  input.Completed,
		Visibility: input.Visibility,
		Order:      input.Order,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, errNotFound("Item not found")
	}
	if err != nil {
		return Item{}, err
	}
	s.indexItem(updated)
	return itemPayload(updated), nil
}

func (s *Service) DeleteItem(ctx context.Context, session Session, itemID string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.ActiveGroupID == nil {
		return errForbidden("Forbidden")
	}

	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Item not found")
	}
	if err != nil {
		return err
	}
	if access.ForMutation(item, user.ID, *user.ActiveGroupID, false) != access.Allow {
		return errNotFound("Item not found")
	}

	if err := s.store.DeleteItem(ctx, itemID, *user.ActiveGroupID, user.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Item not found")
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(itemID)
	}
	return nil
}

// ReorderItems persists a reorder batch. Inaccessible rows are skipped
// silently; concurrent batches are last-write-wins per item and callers are
// expected to refetch afterwards.
func (s *Service) ReorderItems(ctx context.Context, session Session, updates []OrderUpdateInput) error {
	if len(updates) == 0 {
		return errValidation("Invalid reorder payload", nil)
	}
	batch := make([]store.OrderUpdate, 0, len(updates))
	for _, update := range updates {
		if strings.TrimSpace(update.ID) == "" || update.Order == nil {
			return errValidation("Invalid reorder payload", nil)
		}
		batch = append(batch, store.OrderUpdate{ID: update.ID, Order: *update.Order})
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.ActiveGroupID == nil {
		return errForbidden("Forbidden")
	}

	if err := s.store.ReorderItems(ctx, *user.ActiveGroupID, user.ID, batch); err != nil {
		return errStorage("Failed to reorder")
	}
	return nil
}

func (s *Service) SearchItems(ctx context.Context, session Session, query string, limit int) (search.Response, error) {
	group, err := s.ensureGroup(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(search.Query{
		Text:    query,
		GroupID: group.ID,
		UserID:  session.UserID,
		Limit:   limit,
	}), nil
}

func (s *Service) indexItem(item store.Item) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		ID:         item.ID,
		Text:       item.Text,
		GroupID:    item.GroupID,
		CreatedBy:  item.CreatedBy,
		Visibility: item.Visibility,
		Completed:  item.Completed,
	})
}

func itemPayload(item store.Item) Item {
	return Item{
		ID:         item.ID,
		Text:       item.Text,
		Visibility: item.Visibility,
		Completed:  item.Completed,
		Order:      item.Order,
		GroupID:    item.GroupID,
		CreatedBy:  item.CreatedBy,
		CreatedAt:  item.CreatedAt,
	}
}

func validateItemText(text string) error {
	length := utf8.RuneCountInString(text)
	if length < 1 || length > maxItemTextLength {
		return errValidation("Item text must be between 1 and 100 characters", nil)
	}
	return nil
}

func validateVisibility(visibility string) error {
	if visibility != store.VisibilityShared && visibility != store.VisibilityPrivate {
		return errValidation("Visibility must be shared or private", nil)
	}
	return nil
}
