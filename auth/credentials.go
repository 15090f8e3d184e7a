package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/halayachts/admin/rbac"
)

// PasswordCost is the bcrypt cost used for new hashes.
const PasswordCost = 12

// MinPasswordLength is enforced when hashing new passwords.
const MinPasswordLength = 12

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooShort is returned by HashPassword.
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// Account is an admin login with its bcrypt hash.
type Account struct {
	Email        string
	PasswordHash string
	Role         rbac.Role
}

// Verifier checks submitted credentials against configured accounts.
type Verifier struct {
	accounts map[string]Account
}

// NewVerifier validates the accounts' hashes and indexes them by email.
func NewVerifier(accounts ...Account) (*Verifier, error) {
	v := &Verifier{accounts: make(map[string]Account, len(accounts))}
	for _, account := range accounts {
		email := normalizeEmail(account.Email)
		if email == "" {
			return nil, errors.New("account email is required")
		}
		if _, err := bcrypt.Cost([]byte(account.PasswordHash)); err != nil {
			return nil, fmt.Errorf("password hash for %s is not a bcrypt hash: %w", email, err)
		}
		if account.Role == "" {
			account.Role = rbac.RoleAdmin
		}
		account.Email = email
		v.accounts[email] = account
	}
	if len(v.accounts) == 0 {
		return nil, errors.New("at least one account is required")
	}
	return v, nil
}

// Verify returns the account for email when password matches its hash.
// Unknown emails are compared against a dummy hash so both failures take
// similar time.
func (v *Verifier) Verify(email, password string) (Account, error) {
	account, ok := v.accounts[normalizeEmail(email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

// HashPassword produces a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("hala-yachts-dummy-password"), PasswordCost)
	})
	return dummy
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
