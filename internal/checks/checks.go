// Package checks validates the responses of an iteration against the
// authentication service's wire contract.
package checks

import (
	"fmt"
	"net/http"

	"github.com/wesleyorama2/authstress/internal/flow"
	"github.com/wesleyorama2/authstress/internal/scenario"
)

// Check names, as they appear in reports.
const (
	RegisterStatusOK     = "register response code was 200"
	RegisterSuccessTrue  = "register response contains {success: true}"
	LoginStatusOK        = "response code was 200"
	LoginStatusRejected  = "response code was 401"
	LoginHasBody         = "response contains a body"
	LoginHasAccessToken  = "response body has access token"
	LoginHasRefreshToken = "response body has refresh token"
	LoginHasError        = "response body has error"
	LoginErrorIsProper   = "response body errors is proper"
)

// InvalidCredentialsMessage is the error the service returns for a bad login.
const InvalidCredentialsMessage = "Invalid username or password"

// Outcome is the result of one named assertion.
type Outcome struct {
	Name     string `json:"name"`
	Scenario string `json:"scenario"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

type check struct {
	name string
	eval func(resp *flow.Response) (bool, string)
}

var (
	registerChecks = []check{
		{RegisterStatusOK, statusIs(http.StatusOK)},
		{RegisterSuccessTrue, fieldIsTrue("success")},
	}

	loginSuccessChecks = []check{
		{LoginStatusOK, statusIs(http.StatusOK)},
		{LoginHasBody, hasBody},
		{LoginHasAccessToken, fieldPresent("access_token")},
		{LoginHasRefreshToken, fieldPresent("refresh_token")},
	}

	loginFailureChecks = []check{
		{LoginStatusRejected, statusIs(http.StatusUnauthorized)},
		{LoginHasBody, hasBody},
		{LoginHasError, fieldPresent("error")},
		{LoginErrorIsProper, fieldEquals("error", InvalidCredentialsMessage)},
	}
)

// Validate evaluates every applicable assertion for result. Registration
// checks run only when a registration happened, login checks only when a
// login was attempted. Each assertion is evaluated on its own; a failure
// never suppresses the others.
func Validate(result *flow.Result, decision scenario.Decision) []Outcome {
	if result == nil {
		return nil
	}

	outcomes := make([]Outcome, 0, len(registerChecks)+len(loginSuccessChecks))

	if result.Register != nil {
		outcomes = evaluate(outcomes, registerChecks, result.Register)
	}

	if result.Login != nil {
		set := loginFailureChecks
		if decision.ExpectSuccess {
			set = loginSuccessChecks
		}
		outcomes = evaluate(outcomes, set, result.Login)
	}

	return outcomes
}

// AllPassed reports whether every outcome passed.
func AllPassed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

func evaluate(dst []Outcome, set []check, resp *flow.Response) []Outcome {
	for _, c := range set {
		o := Outcome{Name: c.name, Scenario: resp.Tag}
		if resp.Failed() {
			o.Detail = fmt.Sprintf("transport error: %v", resp.Err)
		} else {
			o.Passed, o.Detail = c.eval(resp)
		}
		dst = append(dst, o)
	}
	return dst
}

func statusIs(want int) func(*flow.Response) (bool, string) {
	return func(resp *flow.Response) (bool, string) {
		if resp.StatusCode == want {
			return true, ""
		}
		return false, fmt.Sprintf("status %d, want %d", resp.StatusCode, want)
	}
}

func hasBody(resp *flow.Response) (bool, string) {
	if len(resp.Body) > 0 {
		return true, ""
	}
	return false, "empty body"
}

func fieldPresent(path string) func(*flow.Response) (bool, string) {
	return func(resp *flow.Response) (bool, string) {
		f := Field(resp.Body, path)
		if f.Present() {
			return true, ""
		}
		return false, fmt.Sprintf("%s is %s", path, f.State)
	}
}

func fieldIsTrue(path string) func(*flow.Response) (bool, string) {
	return func(resp *flow.Response) (bool, string) {
		f := Field(resp.Body, path)
		if v, ok := f.AsBool(); ok && v {
			return true, ""
		}
		if f.Present() {
			return false, fmt.Sprintf("%s is %s, want true", path, f.Raw())
		}
		return false, fmt.Sprintf("%s is %s", path, f.State)
	}
}

func fieldEquals(path, want string) func(*flow.Response) (bool, string) {
	return func(resp *flow.Response) (bool, string) {
		f := Field(resp.Body, path)
		if v, ok := f.AsString(); ok && v == want {
			return true, ""
		}
		if f.Present() {
			return false, fmt.Sprintf("%s is %s, want %q", path, f.Raw(), want)
		}
		return false, fmt.Sprintf("%s is %s", path, f.State)
	}
}
