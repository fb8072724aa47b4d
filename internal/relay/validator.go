package relay

import (
	"crypto/subtle"
	"sync"

	"github.com/google/uuid"
)

// ValidationResult is the three-way outcome of a validator call: the
// external credential store either confirms, denies, or is unreachable.
type ValidationResult int

const (
	ValidationValid ValidationResult = iota
	ValidationInvalid
	ValidationTransientError
)

// Validator is the pluggable predicate the core delegates all credential
// decisions to. The core never talks to a database or cache directly; it
// only ever calls this interface. The same ValidateToken call backs both
// the control-channel LoginByToken flow and the public router's
// bearer-token check. On ValidationTransientError, callers fall back to a
// separately configured static bootstrap token — that fallback is the
// caller's responsibility, not the validator's.
type Validator interface {
	// ValidateToken reports whether token currently grants access.
	ValidateToken(token string) ValidationResult
	// ValidateLogin checks interactive email/password credentials and, on
	// success, returns a freshly issued token the agent should persist.
	ValidateLogin(email, password string) (token string, ok bool)
}

// StaticValidator is the default, in-core Validator: a fixed directory of
// email/password pairs loaded from YAML (see config.go) plus an in-memory
// set of tokens issued by successful logins. It never talks to a network
// service, matching §1's "persistent credential stores... out of scope".
// It can be told to report ValidationTransientError on demand, standing in
// for a real database/cache validator being briefly unreachable.
type StaticValidator struct {
	mu             sync.RWMutex
	directory      map[string]string // email -> password
	issued         map[string]string // token -> email
	forceTransient bool
}

// NewStaticValidator builds a validator over the given email/password
// directory.
func NewStaticValidator(directory map[string]string) *StaticValidator {
	if directory == nil {
		directory = map[string]string{}
	}
	return &StaticValidator{
		directory: directory,
		issued:    make(map[string]string),
	}
}

// ValidateToken implements Validator.
func (v *StaticValidator) ValidateToken(token string) ValidationResult {
	if token == "" {
		return ValidationInvalid
	}
	v.mu.RLock()
	_, issuedOK := v.issued[token]
	forceTransient := v.forceTransient
	v.mu.RUnlock()

	if forceTransient {
		return ValidationTransientError
	}
	if issuedOK {
		return ValidationValid
	}
	return ValidationInvalid
}

// ValidateLogin implements Validator.
func (v *StaticValidator) ValidateLogin(email, password string) (string, bool) {
	v.mu.RLock()
	want, ok := v.directory[email]
	forceTransient := v.forceTransient
	v.mu.RUnlock()
	if forceTransient {
		return "", false
	}
	if !ok || !constantTimeEqual(want, password) {
		return "", false
	}
	token := uuid.NewString()
	v.mu.Lock()
	v.issued[token] = email
	v.mu.Unlock()
	return token, true
}

// SetForceTransient is a test/ops hook simulating the external store being
// unreachable, exercising the §4.4/§7 "transient-dependency" fallback.
func (v *StaticValidator) SetForceTransient(transient bool) {
	v.mu.Lock()
	v.forceTransient = transient
	v.mu.Unlock()
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
