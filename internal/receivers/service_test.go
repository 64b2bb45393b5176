package receivers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/messaging"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu        sync.Mutex
	receivers map[string]*EventReceiver
	members   map[string][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		receivers: make(map[string]*EventReceiver),
		members:   make(map[string][]string),
	}
}

func (s *memoryStore) Create(_ context.Context, rec *EventReceiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.receivers {
		if existing.Name == rec.Name && existing.Type == rec.Type && existing.Version == rec.Version {
			return apperrors.Conflict("event receiver with this name, type and version already exists")
		}
	}
	rec.ResourceVersion = 1
	cp := *rec
	s.receivers[rec.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*EventReceiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receivers[id]
	if !ok {
		return nil, apperrors.NotFound("event receiver not found")
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryStore) List(_ context.Context, filter ListFilter) ([]*EventReceiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*EventReceiver
	for _, rec := range s.receivers {
		if filter.Name != "" && rec.Name != filter.Name {
			continue
		}
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, rec *EventReceiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.receivers[rec.ID]
	if !ok {
		return apperrors.NotFound("event receiver not found")
	}
	rec.ResourceVersion = existing.ResourceVersion + 1
	cp := *rec
	s.receivers[rec.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receivers[id]; !ok {
		return apperrors.NotFound("event receiver not found")
	}
	delete(s.receivers, id)
	return nil
}

func (s *memoryStore) AuthzInfo(_ context.Context, id string) (AuthzInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receivers[id]
	if !ok {
		return AuthzInfo{}, apperrors.NotFound("event receiver not found")
	}
	return AuthzInfo{
		OwnerID:         rec.OwnerID,
		GroupID:         rec.GroupID,
		Members:         s.members[rec.GroupID],
		ResourceVersion: rec.ResourceVersion,
	}, nil
}

type recordingInvalidator struct {
	mu     sync.Mutex
	events []opa.ResourceUpdatedEvent
	err    error
}

func (r *recordingInvalidator) Publish(_ context.Context, event opa.ResourceUpdatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.CloudEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event messaging.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService() (*Service, *memoryStore, *recordingInvalidator, *recordingPublisher) {
	store := newMemoryStore()
	inv := &recordingInvalidator{}
	pub := &recordingPublisher{}
	return NewService(store, inv, pub, zap.NewNop()), store, inv, pub
}

func validCreate() CreateRequest {
	return CreateRequest{
		Name:        "build-complete",
		Type:        "ci.build",
		Version:     "1.0.0",
		Description: "builds",
		Schema:      json.RawMessage(`{"type":"object"}`),
	}
}

func TestServiceCreate(t *testing.T) {
	svc, _, inv, pub := newTestService()

	rec, err := svc.Create(context.Background(), "u-1", validCreate())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u-1", rec.OwnerID)
	assert.Equal(t, Fingerprint("build-complete", "ci.build", "1.0.0", rec.Schema), rec.Fingerprint)
	assert.Equal(t, int64(1), rec.ResourceVersion)
	assert.Empty(t, inv.events)
	assert.Equal(t, []string{messaging.TypeReceiverCreated}, pub.types())

	_, err = svc.Create(context.Background(), "u-2", validCreate())
	assert.Equal(t, 409, apperrors.StatusOf(err))
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	tests := []struct {
		name   string
		owner  string
		mutate func(*CreateRequest)
		want   int
	}{
		{"missing owner", "", func(*CreateRequest) {}, 401},
		{"missing name", "u-1", func(r *CreateRequest) { r.Name = "" }, 400},
		{"missing version", "u-1", func(r *CreateRequest) { r.Version = "" }, 400},
		{"schema not an object", "u-1", func(r *CreateRequest) { r.Schema = json.RawMessage(`[1,2]`) }, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate()
			tt.mutate(&req)
			_, err := svc.Create(context.Background(), tt.owner, req)
			assert.Equal(t, tt.want, apperrors.StatusOf(err))
		})
	}
}

func TestServiceUpdateBumpsVersionAndInvalidates(t *testing.T) {
	svc, _, inv, pub := newTestService()
	ctx := context.Background()

	rec, err := svc.Create(ctx, "u-1", validCreate())
	require.NoError(t, err)

	version := "1.1.0"
	updated, err := svc.Update(ctx, rec.ID, UpdateRequest{Version: &version})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", updated.Version)
	assert.Equal(t, int64(2), updated.ResourceVersion)
	assert.NotEqual(t, rec.Fingerprint, updated.Fingerprint)

	require.Len(t, inv.events, 1)
	assert.Equal(t, opa.ReceiverUpdated(rec.ID, 2), inv.events[0])
	assert.Equal(t, []string{messaging.TypeReceiverCreated, messaging.TypeReceiverUpdated}, pub.types())
}

func TestServiceUpdateErrors(t *testing.T) {
	svc, _, inv, _ := newTestService()

	_, err := svc.Update(context.Background(), "missing", UpdateRequest{})
	assert.Equal(t, 400, apperrors.StatusOf(err))

	name := "renamed"
	_, err = svc.Update(context.Background(), "missing", UpdateRequest{Name: &name})
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, inv.events)
}

func TestServiceDelete(t *testing.T) {
	svc, store, inv, pub := newTestService()
	ctx := context.Background()

	rec, err := svc.Create(ctx, "u-1", validCreate())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = store.Get(ctx, rec.ID)
	assert.True(t, apperrors.IsNotFound(err))

	require.Len(t, inv.events, 1)
	assert.Equal(t, opa.EventReceiverUpdated, inv.events[0].Kind)
	assert.Equal(t, rec.ID, inv.events[0].ResourceID)
	assert.Contains(t, pub.types(), messaging.TypeReceiverDeleted)

	assert.True(t, apperrors.IsNotFound(svc.Delete(ctx, rec.ID)))
}

func TestServiceInvalidationFailureDoesNotFailUpdate(t *testing.T) {
	svc, _, inv, _ := newTestService()
	inv.err = errors.New("redis down")
	ctx := context.Background()

	rec, err := svc.Create(ctx, "u-1", validCreate())
	require.NoError(t, err)

	desc := "changed"
	_, err = svc.Update(ctx, rec.ID, UpdateRequest{Description: &desc})
	assert.NoError(t, err)
	assert.Len(t, inv.events, 1)
}

func TestContextBuilder(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	rec, err := svc.Create(ctx, "u-1", validCreate())
	require.NoError(t, err)

	res, err := NewContextBuilder(store).Build(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, opa.ResourceContext{
		ResourceType:    opa.ResourceTypeEventReceiver,
		ResourceID:      rec.ID,
		OwnerID:         "u-1",
		Members:         []string{},
		ResourceVersion: 1,
	}, res)

	_, err = NewContextBuilder(store).Build(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
