package auth

import (
	"context"
	"sync"
)

// ConfirmationFlow issues and redeems email confirmation tokens.
//
// Notification mails are dispatched in the background. Delivery failures
// are logged and never reach the caller, Wait blocks until every pending
// dispatch finished.
type ConfirmationFlow struct {
	users   UserStore
	tokens  *TokenService
	mailer  Mailer
	logger  Logger
	pending sync.WaitGroup
}

// NewConfirmationFlow creates a new ConfirmationFlow instance
func NewConfirmationFlow(users UserStore, tokens *TokenService, mailer Mailer) *ConfirmationFlow {
	return &ConfirmationFlow{
		users:  users,
		tokens: tokens,
		mailer: mailer,
		logger: defaultLogger(),
	}
}

func (f *ConfirmationFlow) WithLogger(logger Logger) *ConfirmationFlow {
	f.logger = normalizeLogger(logger)
	return f
}

// IssueConfirmEmail signs a confirm-email token for user.
func (f *ConfirmationFlow) IssueConfirmEmail(user *User) (string, error) {
	hash, _, err := f.tokens.Sign(TokenConfirmEmail, &ConfirmEmailClaims{
		ConfirmUserID: user.ID,
	})
	return hash, err
}

// IssueConfirmNewEmail signs a confirm-new-email token pinned to the
// current email of user.
func (f *ConfirmationFlow) IssueConfirmNewEmail(user *User) (string, error) {
	hash, _, err := f.tokens.Sign(TokenConfirmNewEmail, &ConfirmEmailClaims{
		ConfirmUserID: user.ID,
		NewEmail:      user.Email,
	})
	return hash, err
}

// SendConfirmEmail signs and mails a confirm-email token in the background.
func (f *ConfirmationFlow) SendConfirmEmail(ctx context.Context, user *User) {
	hash, err := f.IssueConfirmEmail(user)
	if err != nil {
		f.logger.Error("confirm email sign error", "error", err, "user_id", user.ID)
		return
	}

	to := user.Email
	f.dispatch(ctx, "confirm email", func(ctx context.Context) error {
		return f.mailer.SendConfirmEmail(ctx, to, hash)
	})
}

// SendConfirmNewEmail signs and mails a confirm-new-email token in the
// background.
func (f *ConfirmationFlow) SendConfirmNewEmail(ctx context.Context, user *User) {
	hash, err := f.IssueConfirmNewEmail(user)
	if err != nil {
		f.logger.Error("confirm new email sign error", "error", err, "user_id", user.ID)
		return
	}

	to := user.Email
	f.dispatch(ctx, "confirm new email", func(ctx context.Context) error {
		return f.mailer.SendConfirmNewEmail(ctx, to, hash)
	})
}

// ConfirmEmail moves the user the token was issued for from inactive to
// active. Unknown users and users that are not inactive are rejected with
// ErrConfirmationNotFound.
func (f *ConfirmationFlow) ConfirmEmail(ctx context.Context, hash string) (*User, error) {
	claims := &ConfirmEmailClaims{}
	if err := f.tokens.Verify(TokenConfirmEmail, hash, claims); err != nil {
		return nil, err
	}

	user, err := f.users.FindByID(ctx, claims.ConfirmUserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrConfirmationNotFound
		}
		return nil, internalError(err, "failed to load user")
	}

	if user.Status != StatusInactive {
		return nil, ErrConfirmationNotFound
	}

	return f.activate(ctx, user)
}

// ConfirmNewEmail acknowledges an email change. The token only confirms the
// address it was issued for: a later change invalidates it.
func (f *ConfirmationFlow) ConfirmNewEmail(ctx context.Context, hash string) (*User, error) {
	claims := &ConfirmEmailClaims{}
	if err := f.tokens.Verify(TokenConfirmNewEmail, hash, claims); err != nil {
		return nil, err
	}

	user, err := f.users.FindByID(ctx, claims.ConfirmUserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrConfirmationNotFound
		}
		return nil, internalError(err, "failed to load user")
	}

	if claims.NewEmail == "" || NormalizeEmail(claims.NewEmail) != NormalizeEmail(user.Email) {
		return nil, ErrInvalidOrExpiredToken
	}

	if user.Status == StatusActive {
		return user, nil
	}

	return f.activate(ctx, user)
}

// Wait blocks until every background dispatch returned.
func (f *ConfirmationFlow) Wait() {
	f.pending.Wait()
}

func (f *ConfirmationFlow) activate(ctx context.Context, user *User) (*User, error) {
	updated, err := f.users.Update(ctx, user.ID, UserPatch{
		Status: statusPtr(StatusActive),
	})
	if err != nil {
		return nil, internalError(err, "failed to activate user")
	}
	return updated, nil
}

func (f *ConfirmationFlow) dispatch(ctx context.Context, name string, send func(ctx context.Context) error) {
	if f.mailer == nil {
		f.logger.Warn("no mailer configured, notification dropped", "mail", name)
		return
	}

	ctx = context.WithoutCancel(ctx)

	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		if err := send(ctx); err != nil {
			f.logger.Error("notification delivery failed", "mail", name, "error", err)
		}
	}()
}
