// Package testutil provides common testing utilities and fake implementations.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/R3E-Network/user_service/internal/database"
	svcerrors "github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/users"
)

// =============================================================================
// Database driver
// =============================================================================

// FakeDriver is a scriptable database.Driver.
type FakeDriver struct {
	mu            sync.Mutex
	connectErrs   []error
	connectCalls  int
	pingCalls     int
	pingErrs      []error
	pingErr       error
	disconnectErr error
	handler       func(database.Event)
}

// NewFakeDriver creates a driver whose operations all succeed.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// FailConnect queues errors returned by the next Connect calls, in order.
func (d *FakeDriver) FailConnect(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErrs = append(d.connectErrs, errs...)
}

// FailPingOnce makes the next Ping fail with err.
func (d *FakeDriver) FailPingOnce(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErrs = append(d.pingErrs, err)
}

// SetPingError makes every Ping fail with err until reset with nil.
func (d *FakeDriver) SetPingError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErr = err
}

// SetDisconnectError makes Disconnect fail with err.
func (d *FakeDriver) SetDisconnectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectErr = err
}

func (d *FakeDriver) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectCalls++
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		return err
	}
	return nil
}

func (d *FakeDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectErr
}

func (d *FakeDriver) Ping(ctx context.Context) error {
	d.mu.Lock()
	d.pingCalls++
	var err error
	if len(d.pingErrs) > 0 {
		err = d.pingErrs[0]
		d.pingErrs = d.pingErrs[1:]
	} else {
		err = d.pingErr
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}
	return ctx.Err()
}

func (d *FakeDriver) Subscribe(handler func(database.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Emit delivers an ambient event to the subscribed handler.
func (d *FakeDriver) Emit(ev database.Event) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// ConnectCalls returns the number of Connect invocations.
func (d *FakeDriver) ConnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

// PingCalls returns the number of Ping invocations.
func (d *FakeDriver) PingCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pingCalls
}

// =============================================================================
// User repository
// =============================================================================

// UserRepository is an in-memory users.Repository. It enforces the unique
// email index the Mongo repository relies on.
type UserRepository struct {
	store *MemoryStore[bson.ObjectID, users.User]
	err   error
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{store: NewMemoryStore[bson.ObjectID, users.User]()}
}

// FailWith makes every subsequent call return err; nil restores normal
// behaviour.
func (r *UserRepository) FailWith(err error) {
	r.err = err
}

func (r *UserRepository) Create(_ context.Context, u *users.User) error {
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.store.All() {
		if existing.Email == u.Email {
			return duplicateEmail(u.Email)
		}
	}
	ts := Now()
	u.ID = bson.NewObjectID()
	u.CreatedAt = ts
	u.UpdatedAt = ts
	r.store.Set(u.ID, *u)
	return nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*users.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, svcerrors.FromInvalidIDError("id", err)
	}
	u, ok := r.store.Get(oid)
	if !ok {
		return nil, svcerrors.NotFound("User not found")
	}
	return &u, nil
}

func (r *UserRepository) List(_ context.Context, opts users.ListOptions) ([]*users.User, int64, error) {
	if r.err != nil {
		return nil, 0, r.err
	}
	all := make([]*users.User, 0, r.store.Count())
	for _, u := range r.store.All() {
		u := u
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.Hex() > all[j].ID.Hex()
	})

	total := int64(len(all))
	start := min(opts.Skip, total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	return all[start:end], total, nil
}

func (r *UserRepository) Update(_ context.Context, id string, changes users.Changes) (*users.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, svcerrors.FromInvalidIDError("id", err)
	}
	u, ok := r.store.Get(oid)
	if !ok {
		return nil, svcerrors.NotFound("User not found")
	}
	if changes.Email != nil {
		for otherID, other := range r.store.All() {
			if otherID != oid && other.Email == *changes.Email {
				return nil, duplicateEmail(*changes.Email)
			}
		}
		u.Email = *changes.Email
	}
	if changes.Name != nil {
		u.Name = *changes.Name
	}
	if changes.Role != nil {
		u.Role = *changes.Role
	}
	u.UpdatedAt = Now()
	r.store.Set(oid, u)
	return &u, nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return svcerrors.FromInvalidIDError("id", err)
	}
	if _, ok := r.store.Get(oid); !ok {
		return svcerrors.NotFound("User not found")
	}
	r.store.Delete(oid)
	return nil
}

// duplicateEmail mimics the write exception the server returns on a unique
// index violation.
func duplicateEmail(email string) error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{
		Code:    11000,
		Message: `E11000 duplicate key error collection: user_service.users index: email_unique dup key: { email: "` + email + `" }`,
	}}}
}

// ErrStoreDown is a generic store failure for tests.
var ErrStoreDown = errors.New("store down")

// =============================================================================
// Generic storage
// =============================================================================

// MemoryStore is a concurrency-safe map.
type MemoryStore[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// NewMemoryStore creates an empty store.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{data: make(map[K]V)}
}

func (s *MemoryStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemoryStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// All returns a snapshot of the stored values.
func (s *MemoryStore[K, V]) All() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[K]V, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *MemoryStore[K, V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Now returns the current time in UTC, truncated to milliseconds as the
// store would persist it.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
