package domain

import (
	"errors"
	"fmt"
)

// State is the session state of an account. It is persisted explicitly rather than
// inferred from which token fields happen to be set.
type State string

const (
	StateUnregistered     State = ""
	StateRegistered       State = "registered"
	StatePendingTwoFactor State = "pending_two_factor"
	StateAuthenticated    State = "authenticated"
)

// Valid reports whether s is a state that can be persisted.
func (s State) Valid() bool {
	switch s {
	case StateRegistered, StatePendingTwoFactor, StateAuthenticated:
		return true
	}
	return false
}

func (s State) String() string {
	if s == StateUnregistered {
		return "unregistered"
	}
	return string(s)
}

// Operation is a state-changing entry point of the auth core.
type Operation string

const (
	OpSignUp          Operation = "sign_up"
	OpSignIn          Operation = "sign_in"
	OpTwoFactorVerify Operation = "two_factor_verify"
	OpSignOut         Operation = "sign_out"
)

// ErrInvalidTransition is returned when an operation is invoked from a state that does not allow it.
var ErrInvalidTransition = errors.New("invalid state transition")

type transitionKey struct {
	from State
	op   Operation
}

var transitions = map[transitionKey]State{
	{StateUnregistered, OpSignUp}: StateRegistered,

	{StateRegistered, OpSignIn}:       StatePendingTwoFactor,
	{StatePendingTwoFactor, OpSignIn}: StatePendingTwoFactor,
	{StateAuthenticated, OpSignIn}:    StatePendingTwoFactor,

	{StatePendingTwoFactor, OpTwoFactorVerify}: StateAuthenticated,

	{StateRegistered, OpSignOut}:       StateRegistered,
	{StatePendingTwoFactor, OpSignOut}: StateRegistered,
	{StateAuthenticated, OpSignOut}:    StateRegistered,
}

// Transition returns the state reached by applying op in state from.
func Transition(from State, op Operation) (State, error) {
	to, ok := transitions[transitionKey{from, op}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
	}
	return to, nil
}

// SessionUpdate is the set of session fields written together by one transition.
type SessionUpdate struct {
	State             State
	AuthToken         string
	VerificationToken string
	TwoFactorCode     string
}

// Session returns the account's current session fields.
func (a *Account) Session() SessionUpdate {
	return SessionUpdate{
		State:             a.State,
		AuthToken:         a.AuthToken,
		VerificationToken: a.VerificationToken,
		TwoFactorCode:     a.TwoFactorCode,
	}
}

// Apply copies u onto the account.
func (a *Account) Apply(u SessionUpdate) {
	a.State = u.State
	a.AuthToken = u.AuthToken
	a.VerificationToken = u.VerificationToken
	a.TwoFactorCode = u.TwoFactorCode
}
