package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"enrollment/internal/auth"
	"enrollment/internal/crypto"
	"enrollment/internal/model"
	"enrollment/internal/repository"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

type Store interface {
	IdentityExists(ctx context.Context, email, nationalID string) (bool, error)
	CreateEnrollment(ctx context.Context, e model.Enrollment) error
	GetEnrollmentByEmail(ctx context.Context, email string) (model.Enrollment, error)
	ListEnrollments(ctx context.Context) ([]model.EnrollmentSummary, error)
}

// PasswordHasher must return crypto.ErrPasswordMismatch from Check when the
// password is wrong.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Check(hash, password string) error
}

type TokenIssuer interface {
	Issue(subject, name, email string) (string, error)
	Parse(token string) (*auth.Claims, error)
}

// ListingCache holds the listing projection between registrations. A miss
// is reported as ok=false with a nil error. Get also returns the current
// generation; Set must drop the write when Invalidate has advanced the
// generation past the one passed in.
type ListingCache interface {
	Get(ctx context.Context) (items []model.EnrollmentSummary, generation int64, ok bool, err error)
	Set(ctx context.Context, generation int64, items []model.EnrollmentSummary) error
	Invalidate(ctx context.Context) error
}

type Options struct {
	// IssueTokens controls whether a successful login returns a session token.
	IssueTokens bool
	// RequirePasswordConfirmation re-checks confirmacaoSenha on the server.
	RequirePasswordConfirmation bool
	// StrictIdentityValidation checks the email syntax and the 11-digit CPF.
	StrictIdentityValidation bool
}

type Service struct {
	store  Store
	hasher PasswordHasher
	tokens TokenIssuer
	cache  ListingCache
	opts   Options
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

type Option func(*Service)

// WithListingCache enables caching of the listing projection.
func WithListingCache(cache ListingCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, hasher PasswordHasher, tokens TokenIssuer, opts Options, options ...Option) (*Service, error) {
	if store == nil || hasher == nil {
		return nil, errors.New("enrollment: store and hasher are required")
	}
	if opts.IssueTokens && tokens == nil {
		return nil, errors.New("enrollment: token issuer required when tokens are enabled")
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		opts:   opts,
		logger: slog.Default(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Service) IssuesTokens() bool { return s.opts.IssueTokens }

type RegisterRequest struct {
	FullName             string `json:"nome"`
	Email                string `json:"email"`
	NationalID           string `json:"cpf"`
	Password             string `json:"senha"`
	PasswordConfirmation string `json:"confirmacaoSenha,omitempty"`
	CourseType           string `json:"tipoCurso"`
	Street               string `json:"endereco"`
	Neighborhood         string `json:"bairro"`
	City                 string `json:"cidade"`
	State                string `json:"estado"`
	PostalCode           string `json:"cep"`
}

// Register validates and normalizes req, then stores a new enrollment. All
// validation happens before the store is touched.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	record, err := s.buildEnrollment(req)
	if err != nil {
		return err
	}

	exists, err := s.store.IdentityExists(ctx, record.Email, record.NationalID)
	if err != nil {
		return internalError(msgInternal, err)
	}
	if exists {
		return ErrDuplicateIdentity
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return internalError(msgInternal, err)
	}
	record.PasswordHash = hash

	if err := s.store.CreateEnrollment(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrDuplicateIdentity
		}
		return internalError(msgInternal, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.WarnContext(ctx, "listing cache invalidation failed", "error", err)
		}
	}
	return nil
}

func (s *Service) buildEnrollment(req RegisterRequest) (model.Enrollment, error) {
	required := []string{
		req.FullName, req.Email, req.NationalID, req.CourseType,
		req.Street, req.Neighborhood, req.City, req.State, req.PostalCode,
	}
	for _, value := range required {
		if blank(value) {
			return model.Enrollment{}, ErrIncompleteFields
		}
	}
	if req.Password == "" {
		return model.Enrollment{}, ErrIncompleteFields
	}

	email := NormalizeEmail(req.Email)
	nationalID := NormalizeNationalID(req.NationalID)

	if s.opts.StrictIdentityValidation {
		if !govalidator.IsEmail(email) {
			return model.Enrollment{}, ErrInvalidEmail
		}
		if len(nationalID) != 11 {
			return model.Enrollment{}, ErrInvalidNationalID
		}
	}
	if nationalID == "" {
		return model.Enrollment{}, ErrIncompleteFields
	}
	if s.opts.RequirePasswordConfirmation && req.Password != req.PasswordConfirmation {
		return model.Enrollment{}, ErrPasswordConfirmation
	}

	course := model.CourseType(strings.TrimSpace(req.CourseType))
	if !course.Valid() {
		return model.Enrollment{}, ErrInvalidCourseType
	}

	return model.Enrollment{
		ID:           s.newID(),
		FullName:     strings.TrimSpace(req.FullName),
		Email:        email,
		NationalID:   nationalID,
		CourseType:   course,
		Street:       strings.TrimSpace(req.Street),
		Neighborhood: strings.TrimSpace(req.Neighborhood),
		City:         strings.TrimSpace(req.City),
		State:        strings.TrimSpace(req.State),
		PostalCode:   NormalizePostalCode(strings.TrimSpace(req.PostalCode)),
		CreatedAt:    s.now().UTC(),
	}, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

// LoginResult carries Name and Token only when tokens are issued.
type LoginResult struct {
	Message string
	Name    string
	Token   string
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrMissingCredentials
	}

	record, err := s.store.GetEnrollmentByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, internalError(msgInternal, err)
	}

	if err := s.hasher.Check(record.PasswordHash, req.Password); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return LoginResult{}, ErrInvalidPassword
		}
		return LoginResult{}, internalError(msgInternal, err)
	}

	result := LoginResult{
		Message: fmt.Sprintf("Login bem-sucedido. Bem-vindo, %s!", record.FullName),
	}
	if !s.opts.IssueTokens {
		return result, nil
	}

	token, err := s.tokens.Issue(record.ID, record.FullName, record.Email)
	if err != nil {
		return LoginResult{}, internalError(msgInternal, err)
	}
	result.Token = token
	result.Name = record.FullName
	return result, nil
}

// VerifyToken checks signature, issuer and expiry. There is no server-side
// revocation.
func (s *Service) VerifyToken(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if s.tokens == nil {
		return nil, ErrInvalidOrExpiredToken
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, &Error{
			Kind:    ErrInvalidOrExpiredToken.Kind,
			Code:    ErrInvalidOrExpiredToken.Code,
			Message: ErrInvalidOrExpiredToken.Message,
			Err:     err,
		}
	}
	return claims, nil
}

// List returns every enrollment projected to its non-sensitive fields,
// ordered by name.
func (s *Service) List(ctx context.Context) ([]model.EnrollmentSummary, error) {
	var (
		generation int64
		fill       bool
	)
	if s.cache != nil {
		items, gen, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "listing cache read failed", "error", err)
		case ok:
			return items, nil
		default:
			generation, fill = gen, true
		}
	}

	items, err := s.store.ListEnrollments(ctx)
	if err != nil {
		return nil, internalError(msgListInternal, err)
	}
	if items == nil {
		items = []model.EnrollmentSummary{}
	}

	if fill {
		if err := s.cache.Set(ctx, generation, items); err != nil {
			s.logger.WarnContext(ctx, "listing cache write failed", "error", err)
		}
	}
	return items, nil
}
