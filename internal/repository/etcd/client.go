// Package etcd provides etcd client functionality for distributed coordination.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client with leader election and distributed locking.
type Client struct {
	client *clientv3.Client
	ttl    int
	// instance identifies this process as a leader candidate
	instance string

	mu      sync.Mutex
	session *concurrency.Session

	logger *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := int(cfg.SessionTTL.Seconds())
	if ttl <= 0 {
		ttl = 30
	}

	// Create a session for distributed coordination
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger = logger.With(zap.String("component", "etcd"))
	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	hostname, _ := os.Hostname()

	return &Client{
		client:   client,
		ttl:      ttl,
		instance: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		session:  session,
		logger:   logger,
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.session != nil {
		c.session.Close()
	}
	c.mu.Unlock()
	return c.client.Close()
}

// activeSession returns the current session, replacing it once its lease is lost.
func (c *Client) activeSession() (*concurrency.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.session.Done():
	default:
		return c.session, nil
	}

	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(c.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to renew etcd session: %w", err)
	}
	c.session = session
	c.logger.Info("Renewed etcd session", zap.Int64("lease", int64(session.Lease())))
	return session, nil
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Key-Value Operations
// =============================================================================

// Put stores a value in etcd.
func (c *Client) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = c.client.Put(ctx, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}

	return nil
}

// List returns the raw values under a key prefix, keyed by full key.
func (c *Client) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	values := make(map[string]json.RawMessage, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values[string(kv.Key)] = json.RawMessage(kv.Value)
	}
	return values, nil
}

// =============================================================================
// Distributed Locking
// =============================================================================

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = concurrency.ErrLocked

// TryLock takes the named lock without waiting and returns its release function.
// The lock is tied to the client session and is dropped if the session expires.
func (c *Client) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	mutex := concurrency.NewMutex(session, fmt.Sprintf("/locks/%s", name))

	if err := mutex.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("lock %s: %w: %w", name, domain.ErrConflict, ErrLocked)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("name", name))

	return func(ctx context.Context) error {
		if err := mutex.Unlock(ctx); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		c.logger.Debug("Released lock", zap.String("name", name))
		return nil
	}, nil
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	election atomic.Pointer[concurrency.Election]
	client   *Client
	name     string
	isLeader atomic.Bool
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// CampaignForLeader starts a leader election campaign. The campaign runs until ctx is done
// and starts over on a fresh session whenever the session lease is lost.
func (c *Client) CampaignForLeader(ctx context.Context, name string, callback LeaderCallback) (*Leader, error) {
	leader := &Leader{
		client: c,
		name:   name,
	}

	// Start campaign in background
	go func() {
		for ctx.Err() == nil {
			session, err := c.activeSession()
			if err != nil {
				c.logger.Warn("Leader campaign has no session, retrying", zap.Error(err))
				sleepCtx(ctx, 5*time.Second)
				continue
			}

			election := concurrency.NewElection(session, electionKey(name))
			leader.election.Store(election)
			if err := election.Campaign(ctx, c.instance); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
				sleepCtx(ctx, 5*time.Second)
				continue
			}

			// We became the leader
			leader.isLeader.Store(true)
			c.logger.Info("Became leader", zap.String("name", name), zap.String("instance", c.instance))
			if callback != nil {
				callback(true)
			}

			// Wait until we lose leadership
			select {
			case <-ctx.Done():
				return
			case <-session.Done():
				leader.isLeader.Store(false)
				c.logger.Warn("Lost leadership, campaigning again", zap.String("name", name))
				if callback != nil {
					callback(false)
				}
			}
		}
	}()

	return leader, nil
}

func electionKey(name string) string {
	return fmt.Sprintf("/leaders/%s", name)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	election := l.election.Load()
	if election == nil || !l.isLeader.Load() {
		return nil
	}

	if err := election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}

// Holder returns the instance currently leading the election, or ErrKeyNotFound when there is none.
func (l *Leader) Holder(ctx context.Context) (string, error) {
	session, err := l.client.activeSession()
	if err != nil {
		return "", err
	}
	resp, err := concurrency.NewElection(session, electionKey(l.name)).Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", ErrKeyNotFound
	}

	return string(resp.Kvs[0].Value), nil
}
