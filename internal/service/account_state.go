package service

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

type AccountState string

const (
	StateIdle       AccountState = "idle"
	StateUploading  AccountState = "uploading"
	StateProcessing AccountState = "processing"
	StatePosted     AccountState = "posted"
	StateError      AccountState = "error"
	StateDisabled   AccountState = "disabled"
)

var ErrInvalidTransition = errors.New("invalid account state transition")

// transitions lists the forward moves of one account target. posted, error
// and disabled are final.
var transitions = map[AccountState][]AccountState{
	StateIdle:       {StateUploading, StateDisabled},
	StateUploading:  {StateProcessing, StateError},
	StateProcessing: {StateProcessing, StatePosted, StateError},
}

func CanTransition(from, to AccountState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s AccountState) Terminal() bool {
	return s == StatePosted || s == StateError || s == StateDisabled
}

type AccountStatus struct {
	State   AccountState `json:"state"`
	Message string       `json:"message,omitempty"`
}

// StateMap holds the visible state of every account target in one run.
// Each pipeline writes only its own key.
type StateMap struct {
	mu       sync.Mutex
	states   map[int64]AccountStatus
	onChange func(accountID int64, status AccountStatus)
}

// NewStateMap creates an empty map. onChange, when set, is called after
// every accepted transition.
func NewStateMap(onChange func(accountID int64, status AccountStatus)) *StateMap {
	return &StateMap{
		states:   make(map[int64]AccountStatus),
		onChange: onChange,
	}
}

func (m *StateMap) Get(accountID int64) AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[accountID]; ok {
		return st
	}
	return AccountStatus{State: StateIdle}
}

// Set moves accountID to status, rejecting any backward or out-of-terminal move.
func (m *StateMap) Set(accountID int64, status AccountStatus) error {
	m.mu.Lock()
	current, ok := m.states[accountID]
	if !ok {
		current = AccountStatus{State: StateIdle}
	}
	if !CanTransition(current.State, status.State) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for account %d", ErrInvalidTransition, current.State, status.State, accountID)
	}
	m.states[accountID] = status
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(accountID, status)
	}
	return nil
}

func (m *StateMap) Snapshot() map[int64]AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.states)
}
