package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"pubworks/api/internal/archive"
	"pubworks/api/internal/auth"
	"pubworks/api/internal/authpw"
	"pubworks/api/internal/config"
	"pubworks/api/internal/email"
	"pubworks/api/internal/export"
	"pubworks/api/internal/gitrepo"
	"pubworks/api/internal/rbac"
	"pubworks/api/internal/search"
	"pubworks/api/internal/store"
	"pubworks/api/internal/util"
	"pubworks/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	WorkflowRole string
	IsExternal   bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	SetWorkflowRole(context.Context, string, string) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentState(context.Context, string, string, string, string, string) error
	TransferDocumentOwner(context.Context, string, string, string) error
	GetWorkflowInstance(context.Context, string) (store.WorkflowInstance, error)
	InsertWorkflowInstance(context.Context, store.WorkflowInstance) error
	AdvanceInstanceStage(context.Context, string, int, string) error
	InsertTransition(context.Context, store.TransitionRecord) error
	ListTransitions(context.Context, string) ([]store.TransitionRecord, error)
	InsertWorkflowDefinition(context.Context, store.WorkflowDefinitionRecord) error
	GetWorkflowDefinition(context.Context, string) (store.WorkflowDefinitionRecord, error)
	ListWorkflowDefinitions(context.Context) ([]store.WorkflowDefinitionRecord, error)
	InsertDistributionRound(context.Context, store.DistributionRound, []string) error
	GetOpenRound(context.Context, string) (*store.DistributionRound, error)
	ListRoundReviewers(context.Context, string) ([]store.RoundReviewer, error)
	MarkReviewSubmitted(context.Context, string, string) error
	CompleteRound(context.Context, string) error
	InsertFeedback(context.Context, store.FeedbackRecord) error
	ListFeedbackByDocument(context.Context, string) ([]store.FeedbackRecord, error)
	ListFeedbackByRound(context.Context, string) ([]store.FeedbackRecord, error)
	UpdateFeedbackStatus(context.Context, string, string) error
	InsertPublishedArtifact(context.Context, store.PublishedArtifact) error
	ListPublishedArtifacts(context.Context, string) ([]store.PublishedArtifact, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens; Redis in production, Postgres as a
// fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type gitService interface {
	EnsureDocumentRepo(string, gitrepo.Content, string) error
	EnsureBranch(string, string, string) error
	CommitContent(string, string, gitrepo.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string, string) (gitrepo.Content, store.CommitInfo, error)
	History(string, string, int) ([]store.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	GetCommitByHash(string, string) (store.CommitInfo, error)
	CreateTag(string, string, string) error
	ListTags(string) ([]store.NamedVersion, error)
	MergeIntoMain(string, string, string, string) (store.CommitInfo, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	git      gitService
	graph    *workflow.Graph
	matcher  *rbac.Matcher
	search   *search.Service
	export   *export.Service
	archive  *archive.Service
	email    *email.Service
	authpw   *authpw.Service
	merger   Merger
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, searchService *search.Service) *Service {
	service := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		git:      gitService,
		graph:    workflow.Default(),
		matcher:  rbac.NewMatcher(nil),
		search:   searchService,
	}
	service.export = export.NewService(&exportStore{store: service.store, git: service.git})
	return service
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, gitService *gitrepo.Service, searchService *search.Service) *Service {
	service := New(cfg, dataStore, gitService, searchService)
	service.sessions = sessions
	return service
}

// SetExportService wires the PDF/DOCX renderer used for export and publish.
func (s *Service) SetExportService(svc *export.Service) { s.export = svc }

// SetArchiveService wires object storage for published artifacts.
func (s *Service) SetArchiveService(svc *archive.Service) { s.archive = svc }

// SetEmailService wires SMTP notifications.
func (s *Service) SetEmailService(svc *email.Service) { s.email = svc }

// SetAuthPasswordService wires email/password authentication.
func (s *Service) SetAuthPasswordService(svc *authpw.Service) { s.authpw = svc }

// SetMerger overrides the feedback merge engine (used to plug in a paraphraser).
func (s *Service) SetMerger(m Merger) { s.merger = m }

func (s *Service) AuthPasswordService() *authpw.Service { return s.authpw }

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) SyncToken() string { return s.cfg.SyncToken }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Bootstrap seeds the default workflow definition, the pipeline role
// accounts, and a sample document when the database is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	definition := workflow.ExportDefinition(s.graph, "wfd_default")
	payload, err := json.Marshal(definition)
	if err != nil {
		return err
	}
	if err := s.store.InsertWorkflowDefinition(ctx, store.WorkflowDefinitionRecord{
		ID:        "wfd_default",
		Name:      s.graph.Name,
		Version:   s.graph.Version,
		Document:  string(payload),
		Active:    true,
		CreatedBy: "system",
	}); err != nil {
		return err
	}

	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	seedUsers := []struct {
		Name         string
		WorkflowRole string
	}{
		{Name: "Avery Quinn", WorkflowRole: "AO1"},
		{Name: "Morgan Reyes", WorkflowRole: "PCM1"},
		{Name: "Jordan Blake", WorkflowRole: "coordinator1"},
		{Name: "Casey Tran", WorkflowRole: "Legal Reviewer"},
		{Name: "Riley Marsh", WorkflowRole: "OPR Leadership"},
		{Name: "Drew Solís", WorkflowRole: "AFDPO Publisher"},
		{Name: "Sam Okafor", WorkflowRole: "reviewer1"},
		{Name: "Alex Petrov", WorkflowRole: "reviewer2"},
	}
	var owner store.User
	for i, seed := range seedUsers {
		user, err := s.store.EnsureUserByName(ctx, seed.Name)
		if err != nil {
			return err
		}
		if err := s.store.SetWorkflowRole(ctx, user.ID, seed.WorkflowRole); err != nil {
			return err
		}
		if i == 0 {
			owner = user
		}
	}

	documentID := "doc-" + util.NewID("")[:10]
	title := "Squadron Operations Manual"
	subtitle := "Volume 1: Flight Procedures"
	if err := s.store.InsertDocument(ctx, store.Document{
		ID:        documentID,
		Title:     title,
		Subtitle:  subtitle,
		Status:    "DRAFT",
		OwnerID:   owner.ID,
		UpdatedBy: owner.DisplayName,
	}); err != nil {
		return err
	}
	if err := s.git.EnsureDocumentRepo(documentID, gitrepo.Content{
		Title:    title,
		Subtitle: subtitle,
		Body: "<h1>Squadron Operations Manual</h1>\n" +
			"<h2>SECTION I - INTRODUCTION</h2>\n" +
			"<p>This manual establishes flight procedures for all assigned aircrews.</p>\n" +
			"<h2>SECTION II - RESPONSIBILITIES</h2>\n" +
			"<p>The operations officer maintains currency of this manual.</p>",
	}, owner.DisplayName); err != nil {
		return err
	}
	if err := s.git.EnsureBranch(documentID, workingBranch(documentID), "main"); err != nil {
		return err
	}
	if err := s.store.InsertWorkflowInstance(ctx, store.WorkflowInstance{
		DocumentID:     documentID,
		DefinitionID:   "wfd_default",
		CurrentStageID: s.graph.First().ID,
		Version:        1,
	}); err != nil {
		return err
	}

	s.indexDocument(store.Document{ID: documentID, Title: title, Subtitle: subtitle, Status: "DRAFT"})
	return nil
}

func workingBranch(documentID string) string {
	return "working-" + documentID
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       doc.ID,
		Title:    doc.Title,
		Subtitle: doc.Subtitle,
		Status:   doc.Status,
	})
}

func (s *Service) indexFeedback(record store.FeedbackRecord) {
	if s.search == nil {
		return
	}
	s.search.IndexFeedback(search.FeedbackRecord{
		ID:            record.ID,
		ChangeFrom:    record.ChangeFrom,
		ChangeTo:      record.ChangeTo,
		Justification: record.Justification,
		Severity:      record.Severity,
		Status:        record.Status,
		DocumentID:    record.DocumentID,
	})
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:          user.ID,
		Name:         user.DisplayName,
		Role:         user.Role,
		WorkflowRole: user.WorkflowRole,
		JTI:          jti,
		Exp:          expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		WorkflowRole: user.WorkflowRole,
		IsExternal:   user.IsExternal,
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
		Token:        token,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		WorkflowRole: user.WorkflowRole,
		IsExternal:   user.IsExternal,
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
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

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// canEdit reports whether the session may modify the document body.
func (s *Service) canEdit(session Session, doc store.Document) bool {
	if s.Can(session.Role, rbac.ActionAdmin) {
		return true
	}
	if doc.OwnerID != "" && doc.OwnerID == session.UserID {
		return true
	}
	return s.Can(session.Role, rbac.ActionWrite)
}

func (s *Service) isAdmin(session Session) bool {
	return s.Can(session.Role, rbac.ActionAdmin)
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":           user.ID,
			"displayName":  user.DisplayName,
			"email":        user.Email,
			"role":         user.Role,
			"workflowRole": user.WorkflowRole,
		})
	}
	return items, nil
}

func (s *Service) AssignWorkflowRole(ctx context.Context, userID, workflowRole string) error {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.store.SetWorkflowRole(ctx, userID, strings.TrimSpace(workflowRole))
}

// ReindexSearch rebuilds the search indexes from the rows in Postgres.
func (s *Service) ReindexSearch(ctx context.Context) {
	if s.search == nil {
		return
	}
	s.search.ReindexAllFromPG(ctx)
}

func (s *Service) Search(ctx context.Context, text, filterType, documentID string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": text}, nil
	}
	response := s.search.Search(search.Query{
		Text:             text,
		FilterType:       search.ResultType(filterType),
		FilterDocumentID: documentID,
		Limit:            limit,
		Offset:           offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}
