package auth

import (
	"context"
	"errors"
	"strings"
)

// ProfileUpdater applies profile patches on behalf of an authenticated user.
type ProfileUpdater struct {
	users    UserStore
	sessions *SessionManager
	confirm  *ConfirmationFlow
	hasher   PasswordHasher
	files    FileLookup
	logger   Logger
}

// NewProfileUpdater creates a new ProfileUpdater instance
func NewProfileUpdater(users UserStore, sessions *SessionManager, confirm *ConfirmationFlow, hasher PasswordHasher) *ProfileUpdater {
	return &ProfileUpdater{
		users:    users,
		sessions: sessions,
		confirm:  confirm,
		hasher:   hasher,
		logger:   defaultLogger(),
	}
}

func (p *ProfileUpdater) WithLogger(logger Logger) *ProfileUpdater {
	p.logger = normalizeLogger(logger)
	return p
}

// WithFileLookup enables photo reference checks.
func (p *ProfileUpdater) WithFileLookup(files FileLookup) *ProfileUpdater {
	p.files = files
	return p
}

// ProfileResult is the outcome of a profile update. The change flags
// report what was written, not what was requested.
type ProfileResult struct {
	User            *User
	EmailChanged    bool
	PasswordChanged bool
}

// Update applies patch to the acting user.
//
// A new password requires the old one. A new email must be unique, it is
// stored right away and a confirm-new-email notice is sent best-effort.
// Changing either credential revokes every other session of the user.
func (p *ProfileUpdater) Update(ctx context.Context, acting ActingUser, patch ProfilePatch) (*ProfileResult, error) {
	user, err := p.users.FindByID(ctx, acting.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internalError(err, "failed to load user")
	}

	changes := UserPatch{
		FirstName: patch.FirstName,
		LastName:  patch.LastName,
	}

	if patch.PhotoID != nil {
		if err := p.checkPhoto(ctx, *patch.PhotoID); err != nil {
			return nil, err
		}
		changes.PhotoID = patch.PhotoID
	}

	if patch.Password != nil {
		hash, err := p.changePassword(user, *patch.Password, patch.OldPassword)
		if err != nil {
			return nil, err
		}
		changes.PasswordHash = &hash
	}

	emailChanged := false
	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if email != "" && email != NormalizeEmail(user.Email) {
			if err := p.checkEmailAvailable(ctx, user, email); err != nil {
				return nil, err
			}
			changes.Email = &email
			emailChanged = true
		}
	}

	if changes.IsEmpty() {
		return &ProfileResult{User: user}, nil
	}

	updated, err := p.users.Update(ctx, user.ID, changes)
	if err != nil {
		return nil, internalError(err, "failed to update user")
	}

	passwordChanged := changes.PasswordHash != nil
	if passwordChanged || emailChanged {
		if err := p.sessions.RevokeAllForUserExcept(ctx, user.ID, acting.SessionID); err != nil {
			return nil, err
		}
	}

	if emailChanged && p.confirm != nil {
		p.confirm.SendConfirmNewEmail(ctx, updated)
	}

	return &ProfileResult{
		User:            updated,
		EmailChanged:    emailChanged,
		PasswordChanged: passwordChanged,
	}, nil
}

func (p *ProfileUpdater) changePassword(user *User, password string, oldPassword *string) (string, error) {
	if oldPassword == nil || *oldPassword == "" {
		return "", ErrOldPasswordRequired
	}

	if !user.HasPassword() {
		return "", ErrOldPasswordIncorrect
	}

	if err := p.hasher.Compare(*oldPassword, user.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			p.logger.Error("Update verify old password error", "error", err, "user_id", user.ID)
		}
		return "", ErrOldPasswordIncorrect
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return "", internalError(err, "failed to hash password")
	}

	return hash, nil
}

func (p *ProfileUpdater) checkEmailAvailable(ctx context.Context, user *User, email string) error {
	existing, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return internalError(err, "failed to load user")
	}

	if existing.ID != user.ID {
		return ErrEmailAlreadyExists
	}

	return nil
}

func (p *ProfileUpdater) checkPhoto(ctx context.Context, id string) error {
	if p.files == nil || strings.TrimSpace(id) == "" {
		return nil
	}

	ok, err := p.files.FileExists(ctx, id)
	if err != nil {
		return internalError(err, "failed to look up photo")
	}
	if !ok {
		return ErrImageNotExists
	}

	return nil
}
