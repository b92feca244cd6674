// Package scenario decides what one iteration does.
package scenario

// Kind is the branch an iteration takes.
type Kind int

const (
	// RegisterThenLogin registers a fresh credential and logs in with it.
	RegisterThenLogin Kind = iota

	// LoginOnlyExpectFailure logs in with a credential that was never
	// registered and expects the service to refuse it.
	LoginOnlyExpectFailure
)

// Request tags attached to samples and check outcomes.
const (
	TagValidRegister = "ValidRegister"
	TagValidLogin    = "ValidLogin"
	TagInvalidLogin  = "InvalidLogin"
)

// String returns the Kind name.
func (k Kind) String() string {
	switch k {
	case RegisterThenLogin:
		return "register-then-login"
	case LoginOnlyExpectFailure:
		return "login-only-expect-failure"
	default:
		return "unknown"
	}
}

// Decision is made once per iteration and threaded through the request
// builders and the validator.
type Decision struct {
	Kind          Kind
	ExpectSuccess bool
}

// NewDecision returns the Decision for kind with ExpectSuccess derived from it.
func NewDecision(kind Kind) Decision {
	return Decision{Kind: kind, ExpectSuccess: kind == RegisterThenLogin}
}

// Registers reports whether the iteration performs a registration.
func (d Decision) Registers() bool {
	return d.Kind == RegisterThenLogin
}

// RegisterTag returns the tag of the registration request.
func (d Decision) RegisterTag() string {
	return TagValidRegister
}

// LoginTag returns the tag of the login request.
func (d Decision) LoginTag() string {
	if d.ExpectSuccess {
		return TagValidLogin
	}
	return TagInvalidLogin
}
