package enrollment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enrollment/internal/auth"
	"enrollment/internal/crypto"
	"enrollment/internal/enrollment"
	"enrollment/internal/enrollment/mocks"
	"enrollment/internal/model"
	"enrollment/internal/repository"
)

type ServiceSuite struct {
	suite.Suite
	ctx context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupSuite() {
	s.ctx = context.Background()
}

type deps struct {
	store  *mocks.MockStore
	hasher *mocks.MockPasswordHasher
	tokens *mocks.MockTokenIssuer
	cache  *mocks.MockListingCache
}

func (s *ServiceSuite) newService(t *testing.T, opts enrollment.Options, withCache bool) (*enrollment.Service, deps) {
	ctrl := gomock.NewController(t)
	d := deps{
		store:  mocks.NewMockStore(ctrl),
		hasher: mocks.NewMockPasswordHasher(ctrl),
		tokens: mocks.NewMockTokenIssuer(ctrl),
		cache:  mocks.NewMockListingCache(ctrl),
	}
	var options []enrollment.Option
	if withCache {
		options = append(options, enrollment.WithListingCache(d.cache))
	}
	svc, err := enrollment.NewService(d.store, d.hasher, d.tokens, opts, options...)
	require.NoError(t, err)
	return svc, d
}

func validRegistration() enrollment.RegisterRequest {
	return enrollment.RegisterRequest{
		FullName:             "Maria Souza",
		Email:                " Maria@Example.com ",
		NationalID:           "123.456.789-00",
		Password:             "Senha#123",
		PasswordConfirmation: "Senha#123",
		CourseType:           string(model.CourseInformatics),
		Street:               "Rua das Flores, 10",
		Neighborhood:         "Centro",
		City:                 "Campo Grande",
		State:                "MS",
		PostalCode:           "79000000",
	}
}

func (s *ServiceSuite) TestRegister() {
	s.T().Run("stores normalized record - success", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		var stored model.Enrollment
		gomock.InOrder(
			d.store.EXPECT().IdentityExists(gomock.Any(), "maria@example.com", "12345678900").Return(false, nil),
			d.hasher.EXPECT().Hash("Senha#123").Return("bcrypt-hash", nil),
			d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, e model.Enrollment) error {
					stored = e
					return nil
				}),
			d.cache.EXPECT().Invalidate(gomock.Any()).Return(nil),
		)

		err := svc.Register(s.ctx, validRegistration())

		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, "maria@example.com", stored.Email)
		assert.Equal(t, "12345678900", stored.NationalID)
		assert.Equal(t, "79000-000", stored.PostalCode)
		assert.Equal(t, "bcrypt-hash", stored.PasswordHash)
		assert.Equal(t, model.CourseInformatics, stored.CourseType)
		assert.False(t, stored.CreatedAt.IsZero())
	})

	s.T().Run("postal code with 7 digits is kept as received", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		req := validRegistration()
		req.PostalCode = "7900000"
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		d.hasher.EXPECT().Hash(gomock.Any()).Return("h", nil)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e model.Enrollment) error {
				assert.Equal(t, "7900000", e.PostalCode)
				return nil
			})

		require.NoError(t, svc.Register(s.ctx, req))
	})

	s.T().Run("password is hashed exactly as submitted", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		req := validRegistration()
		req.Password = "  spaced  "
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		d.hasher.EXPECT().Hash("  spaced  ").Return("h", nil)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).Return(nil)

		require.NoError(t, svc.Register(s.ctx, req))
	})

	s.T().Run("missing fields never reach the store", func(t *testing.T) {
		blankers := map[string]func(*enrollment.RegisterRequest){
			"nome":      func(r *enrollment.RegisterRequest) { r.FullName = "" },
			"email":     func(r *enrollment.RegisterRequest) { r.Email = "  " },
			"cpf":       func(r *enrollment.RegisterRequest) { r.NationalID = "" },
			"senha":     func(r *enrollment.RegisterRequest) { r.Password = "" },
			"tipoCurso": func(r *enrollment.RegisterRequest) { r.CourseType = "" },
			"endereco":  func(r *enrollment.RegisterRequest) { r.Street = "" },
			"bairro":    func(r *enrollment.RegisterRequest) { r.Neighborhood = "\t" },
			"cidade":    func(r *enrollment.RegisterRequest) { r.City = "" },
			"estado":    func(r *enrollment.RegisterRequest) { r.State = "" },
			"cep":       func(r *enrollment.RegisterRequest) { r.PostalCode = "" },
			"cpf sem dígitos": func(r *enrollment.RegisterRequest) {
				r.NationalID = "abc"
			},
		}
		for field, blankField := range blankers {
			t.Run(field, func(t *testing.T) {
				svc, d := s.newService(t, enrollment.Options{}, true)
				d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).Times(0)
				d.hasher.EXPECT().Hash(gomock.Any()).Times(0)
				req := validRegistration()
				blankField(&req)

				err := svc.Register(s.ctx, req)

				assert.ErrorIs(t, err, enrollment.ErrIncompleteFields)
			})
		}
	})

	s.T().Run("unknown course type is rejected", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		req := validRegistration()
		req.CourseType = "Medicina"

		assert.ErrorIs(t, svc.Register(s.ctx, req), enrollment.ErrInvalidCourseType)
	})

	s.T().Run("duplicate identity found by pre-check", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
		d.hasher.EXPECT().Hash(gomock.Any()).Times(0)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).Times(0)
		d.cache.EXPECT().Invalidate(gomock.Any()).Times(0)

		err := svc.Register(s.ctx, validRegistration())

		assert.ErrorIs(t, err, enrollment.ErrDuplicateIdentity)
	})

	s.T().Run("unique constraint race is a conflict", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		d.hasher.EXPECT().Hash(gomock.Any()).Return("h", nil)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("insert enrollment: %w", repository.ErrConflict))

		err := svc.Register(s.ctx, validRegistration())

		assert.ErrorIs(t, err, enrollment.ErrDuplicateIdentity)
	})

	s.T().Run("store failure is internal and hides detail", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		cause := errors.New("connection refused")
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, cause)

		err := svc.Register(s.ctx, validRegistration())

		var domainErr *enrollment.Error
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, enrollment.KindInternal, domainErr.Kind)
		assert.Equal(t, "Erro interno no servidor.", domainErr.Message)
		assert.ErrorIs(t, err, cause)
	})

	s.T().Run("cache invalidation failure does not fail registration", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		d.hasher.EXPECT().Hash(gomock.Any()).Return("h", nil)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).Return(nil)
		d.cache.EXPECT().Invalidate(gomock.Any()).Return(errors.New("redis down"))

		assert.NoError(t, svc.Register(s.ctx, validRegistration()))
	})
}

func (s *ServiceSuite) TestRegisterOptionalValidation() {
	s.T().Run("password confirmation enforced when enabled", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{RequirePasswordConfirmation: true}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		req := validRegistration()
		req.PasswordConfirmation = "outra"

		assert.ErrorIs(t, svc.Register(s.ctx, req), enrollment.ErrPasswordConfirmation)
	})

	s.T().Run("password confirmation ignored when disabled", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		d.hasher.EXPECT().Hash(gomock.Any()).Return("h", nil)
		d.store.EXPECT().CreateEnrollment(gomock.Any(), gomock.Any()).Return(nil)
		req := validRegistration()
		req.PasswordConfirmation = ""

		assert.NoError(t, svc.Register(s.ctx, req))
	})

	s.T().Run("strict validation rejects malformed email", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{StrictIdentityValidation: true}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		req := validRegistration()
		req.Email = "maria-at-example"

		assert.ErrorIs(t, svc.Register(s.ctx, req), enrollment.ErrInvalidEmail)
	})

	s.T().Run("strict validation rejects short cpf", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{StrictIdentityValidation: true}, false)
		d.store.EXPECT().IdentityExists(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		req := validRegistration()
		req.NationalID = "123.456.789"

		assert.ErrorIs(t, svc.Register(s.ctx, req), enrollment.ErrInvalidNationalID)
	})
}

func (s *ServiceSuite) TestLogin() {
	record := model.Enrollment{
		ID:           "3f0c6f8e-2f7e-4d59-9f0e-8f7b1f2a9c11",
		FullName:     "Maria Souza",
		Email:        "maria@example.com",
		PasswordHash: "stored-hash",
	}

	s.T().Run("missing credentials", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: true}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: "maria@example.com"})
		assert.ErrorIs(t, err, enrollment.ErrMissingCredentials)

		_, err = svc.Login(s.ctx, enrollment.LoginRequest{Email: "   ", Password: "x"})
		assert.ErrorIs(t, err, enrollment.ErrMissingCredentials)
	})

	s.T().Run("unknown email", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: true}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), "ghost@example.com").Return(model.Enrollment{}, repository.ErrNotFound)

		_, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: "Ghost@example.com", Password: "x"})
		assert.ErrorIs(t, err, enrollment.ErrUserNotFound)
	})

	s.T().Run("wrong password issues no token", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: true}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), record.Email).Return(record, nil)
		d.hasher.EXPECT().Check("stored-hash", "wrong").Return(crypto.ErrPasswordMismatch)
		d.tokens.EXPECT().Issue(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		res, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: record.Email, Password: "wrong"})
		assert.ErrorIs(t, err, enrollment.ErrInvalidPassword)
		assert.Empty(t, res.Token)
	})

	s.T().Run("corrupt hash is internal", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: true}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), record.Email).Return(record, nil)
		d.hasher.EXPECT().Check(gomock.Any(), gomock.Any()).Return(errors.New("hash too short"))

		_, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: record.Email, Password: "x"})
		var domainErr *enrollment.Error
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, enrollment.KindInternal, domainErr.Kind)
	})

	s.T().Run("success issues token", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: true}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), record.Email).Return(record, nil)
		d.hasher.EXPECT().Check("stored-hash", "Senha#123").Return(nil)
		d.tokens.EXPECT().Issue(record.ID, record.FullName, record.Email).Return("signed-token", nil)

		res, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: record.Email, Password: "Senha#123"})
		require.NoError(t, err)
		assert.Equal(t, "signed-token", res.Token)
		assert.Equal(t, "Maria Souza", res.Name)
		assert.Equal(t, "Login bem-sucedido. Bem-vindo, Maria Souza!", res.Message)
	})

	s.T().Run("success without tokens returns message only", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{IssueTokens: false}, false)
		d.store.EXPECT().GetEnrollmentByEmail(gomock.Any(), record.Email).Return(record, nil)
		d.hasher.EXPECT().Check(gomock.Any(), gomock.Any()).Return(nil)
		d.tokens.EXPECT().Issue(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		res, err := svc.Login(s.ctx, enrollment.LoginRequest{Email: record.Email, Password: "Senha#123"})
		require.NoError(t, err)
		assert.Empty(t, res.Token)
		assert.Empty(t, res.Name)
		assert.Equal(t, "Login bem-sucedido. Bem-vindo, Maria Souza!", res.Message)
	})
}

func (s *ServiceSuite) TestVerifyToken() {
	issuer, err := auth.NewIssuer("secret", "test-issuer")
	s.Require().NoError(err)
	svc, err := enrollment.NewService(repository.NewMemoryStore(), &stubHasher{}, issuer, enrollment.Options{IssueTokens: true})
	s.Require().NoError(err)

	s.T().Run("missing token", func(t *testing.T) {
		_, err := svc.VerifyToken("")
		assert.ErrorIs(t, err, enrollment.ErrMissingToken)
	})

	s.T().Run("garbage token", func(t *testing.T) {
		_, err := svc.VerifyToken("not.a.jwt")
		assert.ErrorIs(t, err, enrollment.ErrInvalidOrExpiredToken)
	})

	s.T().Run("expired token", func(t *testing.T) {
		token, err := auth.NewAccessToken([]byte("secret"), "test-issuer", auth.SessionTTL,
			time.Now().Add(-25*time.Hour), auth.Claims{Name: "Maria"})
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, enrollment.ErrInvalidOrExpiredToken)
	})

	s.T().Run("valid token", func(t *testing.T) {
		token, err := issuer.Issue("id-1", "Maria", "maria@example.com")
		require.NoError(t, err)

		claims, err := svc.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, "Maria", claims.Name)
		assert.Equal(t, "id-1", claims.Subject)
	})
}

func (s *ServiceSuite) TestList() {
	items := []model.EnrollmentSummary{
		{FullName: "Ana", Email: "ana@example.com", NationalID: "1", CourseType: model.CourseElectronics, City: "Dourados", State: "MS"},
	}

	s.T().Run("cache hit skips store", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		d.cache.EXPECT().Get(gomock.Any()).Return(items, int64(4), true, nil)
		d.store.EXPECT().ListEnrollments(gomock.Any()).Times(0)

		got, err := svc.List(s.ctx)
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})

	s.T().Run("cache miss reads store and fills cache", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		gomock.InOrder(
			d.cache.EXPECT().Get(gomock.Any()).Return(nil, int64(4), false, nil),
			d.store.EXPECT().ListEnrollments(gomock.Any()).Return(items, nil),
			d.cache.EXPECT().Set(gomock.Any(), int64(4), items).Return(nil),
		)

		got, err := svc.List(s.ctx)
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})

	s.T().Run("cache read error falls through to store without filling", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		d.cache.EXPECT().Get(gomock.Any()).Return(nil, int64(0), false, errors.New("redis down"))
		d.store.EXPECT().ListEnrollments(gomock.Any()).Return(items, nil)
		d.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		got, err := svc.List(s.ctx)
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})

	s.T().Run("cache write error is not fatal", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, true)
		d.cache.EXPECT().Get(gomock.Any()).Return(nil, int64(0), false, nil)
		d.store.EXPECT().ListEnrollments(gomock.Any()).Return(items, nil)
		d.cache.EXPECT().Set(gomock.Any(), int64(0), items).Return(errors.New("redis down"))

		got, err := svc.List(s.ctx)
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})

	s.T().Run("empty store yields empty slice", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		d.store.EXPECT().ListEnrollments(gomock.Any()).Return(nil, nil)

		got, err := svc.List(s.ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	s.T().Run("store failure", func(t *testing.T) {
		svc, d := s.newService(t, enrollment.Options{}, false)
		d.store.EXPECT().ListEnrollments(gomock.Any()).Return(nil, errors.New("boom"))

		_, err := svc.List(s.ctx)
		var domainErr *enrollment.Error
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "Erro ao buscar inscritos.", domainErr.Message)
	})
}

// A registration that commits while a listing read is in flight must not
// leave the older projection in the cache.
func TestListDoesNotCacheProjectionOlderThanRegistration(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{
		MemoryStore: repository.NewMemoryStore(),
		read:        make(chan struct{}),
		resume:      make(chan struct{}),
	}
	store.pause.Store(true)
	listing := &generationCache{}
	svc, err := enrollment.NewService(store, &stubHasher{}, nil, enrollment.Options{},
		enrollment.WithListingCache(listing))
	require.NoError(t, err)

	done := make(chan []model.EnrollmentSummary, 1)
	go func() {
		items, err := svc.List(ctx)
		assert.NoError(t, err)
		done <- items
	}()

	<-store.read
	require.NoError(t, svc.Register(ctx, validRegistration()))
	close(store.resume)
	assert.Empty(t, <-done)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Maria Souza", items[0].FullName)
}

type pausingStore struct {
	*repository.MemoryStore
	pause  atomic.Bool
	read   chan struct{}
	resume chan struct{}
}

func (p *pausingStore) ListEnrollments(ctx context.Context) ([]model.EnrollmentSummary, error) {
	items, err := p.MemoryStore.ListEnrollments(ctx)
	if p.pause.CompareAndSwap(true, false) {
		close(p.read)
		<-p.resume
	}
	return items, err
}

// generationCache follows the ListingCache contract in memory.
type generationCache struct {
	mu         sync.Mutex
	items      []model.EnrollmentSummary
	cached     bool
	generation int64
}

func (c *generationCache) Get(context.Context) ([]model.EnrollmentSummary, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items, c.generation, c.cached, nil
}

func (c *generationCache) Set(_ context.Context, generation int64, items []model.EnrollmentSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}
	c.items, c.cached = items, true
	return nil
}

func (c *generationCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.items, c.cached = nil, false
	return nil
}

func TestNewServiceRequiresIssuerForTokens(t *testing.T) {
	_, err := enrollment.NewService(repository.NewMemoryStore(), &stubHasher{}, nil, enrollment.Options{IssueTokens: true})
	assert.Error(t, err)

	svc, err := enrollment.NewService(repository.NewMemoryStore(), &stubHasher{}, nil, enrollment.Options{})
	require.NoError(t, err)
	assert.False(t, svc.IssuesTokens())
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "stub:" + password, nil }

func (stubHasher) Check(hash, password string) error {
	if hash != "stub:"+password {
		return crypto.ErrPasswordMismatch
	}
	return nil
}
