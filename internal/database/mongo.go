package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const defaultDatabase = "user_service"

// MongoConfig holds MongoDB client settings.
type MongoConfig struct {
	URI                    string
	AppName                string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	OperationTimeout       time.Duration
}

// MongoDriver implements Driver on top of the official MongoDB driver.
// Topology changes are surfaced as ambient Events: the connection counts as
// up while the topology holds at least one data-bearing server.
type MongoDriver struct {
	cfg    MongoConfig
	dbName string

	mu      sync.RWMutex
	client  *mongo.Client
	handler func(Event)
	// gen identifies the current client; monitors of older clients are muted.
	gen       uint64
	available bool
}

// dataBearingKinds are the server kinds that can serve reads or writes.
var dataBearingKinds = map[string]bool{
	"Standalone":   true,
	"RSPrimary":    true,
	"RSSecondary":  true,
	"Mongos":       true,
	"LoadBalancer": true,
}

// NewMongoDriver creates a driver; no connection is made until Connect.
func NewMongoDriver(cfg MongoConfig) *MongoDriver {
	name := ParseTarget(cfg.URI).Database
	if name == "" {
		name = defaultDatabase
	}
	return &MongoDriver{cfg: cfg, dbName: name}
}

// Connect creates a client and verifies it against the primary. A client
// left over from a previous session is closed first.
func (d *MongoDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	old := d.client
	d.client = nil
	d.gen++
	gen := d.gen
	d.available = false
	d.mu.Unlock()
	if old != nil {
		_ = old.Disconnect(ctx)
	}

	opts := options.Client().
		ApplyURI(d.cfg.URI).
		SetServerMonitor(d.serverMonitor(gen))
	if d.cfg.AppName != "" {
		opts.SetAppName(d.cfg.AppName)
	}
	if d.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(d.cfg.MaxPoolSize)
	}
	if d.cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(d.cfg.MinPoolSize)
	}
	if d.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(d.cfg.ConnectTimeout)
	}
	if d.cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(d.cfg.ServerSelectionTimeout)
	}
	if d.cfg.OperationTimeout > 0 {
		opts.SetTimeout(d.cfg.OperationTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return fmt.Errorf("create mongo client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongo: %w", err)
	}

	d.mu.Lock()
	d.client = client
	d.available = true
	d.mu.Unlock()
	return nil
}

// Disconnect closes the client. Closing an unopened driver is a no-op.
func (d *MongoDriver) Disconnect(ctx context.Context) error {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
	return nil
}

// Ping round-trips to the primary.
func (d *MongoDriver) Ping(ctx context.Context) error {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, readpref.Primary())
}

// Subscribe installs the ambient event handler.
func (d *MongoDriver) Subscribe(handler func(Event)) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// Database returns the configured database, or nil when not connected.
func (d *MongoDriver) Database() *mongo.Database {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.client == nil {
		return nil
	}
	return d.client.Database(d.dbName)
}

// Collection returns a handle on name in the configured database.
func (d *MongoDriver) Collection(name string) (*mongo.Collection, error) {
	db := d.Database()
	if db == nil {
		return nil, ErrNotConnected
	}
	return db.Collection(name), nil
}

// setAvailable records whether the topology of client gen can serve
// operations and emits an Event only when that changes.
func (d *MongoDriver) setAvailable(gen uint64, up bool, cause error) {
	d.mu.Lock()
	if gen != d.gen || up == d.available {
		d.mu.Unlock()
		return
	}
	d.available = up
	handler := d.handler
	d.mu.Unlock()

	if handler == nil {
		return
	}
	if up {
		handler(Event{Kind: EventConnected})
		return
	}
	handler(Event{Kind: EventDisconnected, Err: cause})
}

func (d *MongoDriver) serverMonitor(gen uint64) *event.ServerMonitor {
	return &event.ServerMonitor{
		TopologyDescriptionChanged: func(e *event.TopologyDescriptionChangedEvent) {
			up := hasDataBearingServer(e.NewDescription)
			var cause error
			if !up {
				cause = fmt.Errorf("no data-bearing server in %s topology", e.NewDescription.Kind)
			}
			d.setAvailable(gen, up, cause)
		},
		TopologyClosed: func(*event.TopologyClosedEvent) {
			d.setAvailable(gen, false, errTopologyClosed)
		},
	}
}

var errTopologyClosed = errors.New("mongo topology closed")

func hasDataBearingServer(t event.TopologyDescription) bool {
	for _, s := range t.Servers {
		if dataBearingKinds[s.Kind] {
			return true
		}
	}
	return false
}
