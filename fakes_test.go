package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-session-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type memoryUsers struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*auth.User
	deleted map[uuid.UUID]*auth.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		rows:    map[uuid.UUID]*auth.User{},
		deleted: map[uuid.UUID]*auth.User{},
	}
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrRecordNotFound
}

func (m *memoryUsers) FindByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, auth.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if user.Email != "" && u.Email == user.Email {
			return nil, auth.ErrEmailAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	// soft deleted rows keep their primary key
	_, live := m.rows[user.ID]
	_, gone := m.deleted[user.ID]
	if live || gone {
		return nil, auth.ErrDuplicateUserID
	}
	cp := *user
	m.rows[user.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memoryUsers) Update(_ context.Context, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, auth.ErrRecordNotFound
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.PhotoID != nil {
		u.PhotoID = *patch.PhotoID
	}
	if patch.Status != nil {
		u.Status = *patch.Status
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return auth.ErrRecordNotFound
	}
	m.deleted[id] = u
	delete(m.rows, id)
	return nil
}

func (m *memoryUsers) get(t *testing.T, id uuid.UUID) *auth.User {
	t.Helper()
	u, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

type memorySessions struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*auth.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{rows: map[int64]*auth.Session{}}
}

func (m *memorySessions) Create(_ context.Context, session *auth.Session) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	session.ID = m.nextID
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	cp := *session
	m.rows[session.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memorySessions) FindByID(_ context.Context, id int64) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, auth.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessions) RotateHash(_ context.Context, id int64, previous, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Hash != previous {
		return false, nil
	}
	s.Hash = next
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memorySessions) DeleteByID(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memorySessions) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	return m.DeleteAllForUserExcept(context.Background(), userID, 0)
}

func (m *memorySessions) DeleteAllForUserExcept(_ context.Context, userID uuid.UUID, keepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.rows {
		if s.UserID == userID && id != keepID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memorySessions) count(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.rows {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

type sentMail struct {
	kind      string
	to        string
	hash      string
	expiresAt time.Time
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return m.err
}

func (m *recordingMailer) SendConfirmEmail(_ context.Context, to, hash string) error {
	return m.record(sentMail{kind: "confirm", to: to, hash: hash})
}

func (m *recordingMailer) SendConfirmNewEmail(_ context.Context, to, hash string) error {
	return m.record(sentMail{kind: "confirm-new", to: to, hash: hash})
}

func (m *recordingMailer) SendForgotPassword(_ context.Context, to, hash string, expiresAt time.Time) error {
	return m.record(sentMail{kind: "forgot", to: to, hash: hash, expiresAt: expiresAt})
}

func (m *recordingMailer) last(t *testing.T, kind string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s mail sent", kind)
	return sentMail{}
}

func (m *recordingMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

type stubFiles map[string]bool

func (f stubFiles) FileExists(_ context.Context, id string) (bool, error) {
	return f[id], nil
}

func testSecrets() auth.StaticSecrets {
	return auth.StaticSecrets{
		auth.TokenAccess:          {Key: []byte("access-secret"), TTL: 15 * time.Minute},
		auth.TokenRefresh:         {Key: []byte("refresh-secret"), TTL: 30 * 24 * time.Hour},
		auth.TokenConfirmEmail:    {Key: []byte("confirm-secret"), TTL: 24 * time.Hour},
		auth.TokenConfirmNewEmail: {Key: []byte("confirm-new-secret"), TTL: 24 * time.Hour},
		auth.TokenForgotPassword:  {Key: []byte("forgot-secret"), TTL: 30 * time.Minute},
	}
}

var testHasher = auth.BcryptHasher{Cost: bcrypt.MinCost}

type fixture struct {
	svc      *auth.AuthService
	users    *memoryUsers
	sessions *memorySessions
	mailer   *recordingMailer
}

func newFixture(t *testing.T, opts ...auth.Option) *fixture {
	t.Helper()

	f := &fixture{
		users:    newMemoryUsers(),
		sessions: newMemorySessions(),
		mailer:   &recordingMailer{},
	}

	opts = append([]auth.Option{
		auth.WithLogger(testLogger{}),
		auth.WithPasswordHasher(testHasher),
	}, opts...)

	f.svc = auth.NewAuthService(f.users, f.sessions, f.mailer, testSecrets(), opts...)
	return f
}

func (f *fixture) seedUser(t *testing.T, email, password string, status auth.UserStatus) *auth.User {
	t.Helper()

	user := &auth.User{
		ID:       uuid.New(),
		Email:    email,
		Provider: auth.ProviderEmail,
		Role:     auth.RoleUser,
		Status:   status,
	}
	if password != "" {
		hash, err := testHasher.Hash(password)
		require.NoError(t, err)
		user.PasswordHash = hash
	}

	created, err := f.users.Create(context.Background(), user)
	require.NoError(t, err)
	return created
}

func (f *fixture) login(t *testing.T, email, password string) (*auth.LoginResponse, *auth.RefreshClaims) {
	t.Helper()

	res, err := f.svc.Login(context.Background(), email, password)
	require.NoError(t, err)

	claims, err := f.svc.Sessions().VerifyRefresh(res.RefreshToken)
	require.NoError(t, err)

	return res, claims
}
