// Package identity registers and authenticates users against the users
// collection and issues the JWTs that carry a session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/notify"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether s looks like an email address.
func IsValidEmail(s string) bool { return emailRe.MatchString(s) }

// Service owns user records and tokens.
type Service struct {
	store  docstore.Store
	secret []byte
	ttl    time.Duration
	phones notify.PhoneValidator
	now    func() time.Time
}

func NewService(store docstore.Store, secret []byte, ttl time.Duration, phones notify.PhoneValidator) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, secret: secret, ttl: ttl, phones: phones, now: time.Now}
}

// TokenTTL is the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration { return s.ttl }

// SignUp creates a user. Validation happens before any store access.
func (s *Service) SignUp(ctx context.Context, email, password, username string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	var problems []string
	if username == "" {
		problems = append(problems, "El nombre de usuario es requerido")
	}
	if strings.Contains(username, "@") {
		problems = append(problems, "El nombre de usuario no puede contener @")
	}
	if err := common.NewValidationError(problems); err != nil {
		return model.User{}, err
	}
	if !IsValidEmail(email) {
		return model.User{}, authErr(CodeInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		return model.User{}, authErr(CodeWeakPassword)
	}

	if taken, err := s.exists(ctx, "email", email); err != nil {
		return model.User{}, err
	} else if taken {
		return model.User{}, authErr(CodeEmailInUse)
	}
	if taken, err := s.exists(ctx, "username", username); err != nil {
		return model.User{}, err
	} else if taken {
		return model.User{}, authErr(CodeUsernameInUse)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := model.User{
		UID:          uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	data, err := docstore.Encode(u)
	if err != nil {
		return model.User{}, err
	}
	if err := s.store.Set(ctx, model.CollectionUsers, u.UID, data, false); err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	appLog.Info("user registered", "uid", u.UID, "username", u.Username)
	return u.Public(), nil
}

// SignIn authenticates by email when identifier contains "@", otherwise by
// username.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (model.User, error) {
	identifier = strings.TrimSpace(identifier)

	var problems []string
	if identifier == "" {
		problems = append(problems, "El email o usuario es requerido")
	}
	if password == "" {
		problems = append(problems, "La contraseña es requerida")
	}
	if err := common.NewValidationError(problems); err != nil {
		return model.User{}, err
	}

	field, value := "username", identifier
	if strings.Contains(identifier, "@") {
		field, value = "email", strings.ToLower(identifier)
	}

	docs, err := s.store.Query(ctx, model.CollectionUsers, field, value)
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w", err)
	}
	if len(docs) == 0 {
		return model.User{}, authErr(CodeUserNotFound)
	}

	u, err := decodeUser(docs[0])
	if err != nil {
		return model.User{}, err
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		appLog.Error("password verify failed", err, "uid", u.UID)
		return model.User{}, authErr(CodeWrongPassword)
	}
	if !ok {
		return model.User{}, authErr(CodeWrongPassword)
	}

	appLog.Info("user signed in", "uid", u.UID)
	return u.Public(), nil
}

// IssueToken signs a token binding userID to sessionID.
func (s *Service) IssueToken(userID, sessionID string) (string, error) {
	return GenerateToken(userID, sessionID, s.secret, s.ttl)
}

// ParseToken validates a token issued by this service.
func (s *Service) ParseToken(token string) (*Claims, error) {
	return ParseToken(token, s.secret)
}

// GetProfile returns the public profile of uid.
func (s *Service) GetProfile(ctx context.Context, uid string) (model.User, error) {
	doc, err := s.store.Get(ctx, model.CollectionUsers, uid)
	if err != nil {
		return model.User{}, err
	}
	u, err := decodeUser(doc)
	if err != nil {
		return model.User{}, err
	}
	return u.Public(), nil
}

// ProfileUpdate holds the editable profile fields; nil leaves a field as
// it is. An empty Phone clears it.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	Phone       *string `json:"phone"`
}

// UpdateProfile merges upd into the stored profile and returns the result.
func (s *Service) UpdateProfile(ctx context.Context, uid string, upd ProfileUpdate) (model.User, error) {
	fields := map[string]any{}
	if upd.DisplayName != nil {
		fields["displayName"] = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.Phone != nil {
		raw := strings.TrimSpace(*upd.Phone)
		if raw == "" {
			fields["phone"] = nil
		} else {
			phone, err := s.phones.Validate(raw)
			if err != nil {
				return model.User{}, common.NewValidationError([]string{err.Error()})
			}
			fields["phone"] = phone
		}
	}
	if len(fields) == 0 {
		return s.GetProfile(ctx, uid)
	}

	if err := s.store.Set(ctx, model.CollectionUsers, uid, fields, true); err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	return s.GetProfile(ctx, uid)
}

// DisplayName is the name shown for u in greetings and exports.
func DisplayName(u *model.User) string {
	switch {
	case u == nil:
		return ""
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	}
	return "Usuario"
}

func (s *Service) exists(ctx context.Context, field, value string) (bool, error) {
	docs, err := s.store.Query(ctx, model.CollectionUsers, field, value)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", field, err)
	}
	return len(docs) > 0, nil
}

func decodeUser(doc docstore.Document) (model.User, error) {
	var u model.User
	if err := doc.DataTo(&u); err != nil {
		return model.User{}, err
	}
	if u.UID == "" {
		u.UID = doc.ID
	}
	return u, nil
}

// IsAuthError reports whether err carries one of the identity codes.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
