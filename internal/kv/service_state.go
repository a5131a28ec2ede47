package kv

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// ServiceStateKey is the only key of the state bucket.
const ServiceStateKey = "service"

// ServiceStateStore persists the singleton core.ServiceState record.
type ServiceStateStore struct {
	store *Store
}

// NewServiceStateStore creates a new ServiceStateStore.
func NewServiceStateStore(kv jetstream.KeyValue) *ServiceStateStore {
	return &ServiceStateStore{store: NewStore(kv)}
}

// Load returns the stored state, creating {IsCheckingBalances: false} when absent.
func (s *ServiceStateStore) Load(ctx context.Context) (core.ServiceState, error) {
	var state core.ServiceState
	_, err := s.store.GetJSON(ctx, ServiceStateKey, &state)
	if err == nil {
		return state, nil
	}
	if !IsNotFound(err) {
		return core.ServiceState{}, err
	}

	state = core.ServiceState{}
	if _, err := s.store.CreateJSON(ctx, ServiceStateKey, state); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			// Lost a create race; the winner's record is authoritative.
			_, err = s.store.GetJSON(ctx, ServiceStateKey, &state)
			return state, err
		}
		return core.ServiceState{}, err
	}
	return state, nil
}

// SetChecking updates IsCheckingBalances.
func (s *ServiceStateStore) SetChecking(ctx context.Context, checking bool) error {
	var state core.ServiceState
	return s.store.UpdateJSON(ctx, ServiceStateKey, &state, func() {
		state.IsCheckingBalances = checking
	})
}
