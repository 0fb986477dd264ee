// client.go: Consumer-facing client over the strata engine
//
// Client wraps an Engine with a friendlier surface: typed read/write
// helpers, one change callback, and optional asynchronous delivery through
// the notification ring so slow consumers never stall the transport thread.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"sync/atomic"
)

// ClientOptions tune client construction. The zero value selects the default
// profile chain, the shared D-Bus transport, environment settings and
// synchronous notification delivery.
type ClientOptions struct {
	// Profile is the profile selector; "" walks the default chain.
	Profile string

	// Transport substitutes the bus transport; nil selects D-Bus.
	Transport Transport

	// Settings overrides directories and audit configuration.
	Settings *Settings

	// AsyncNotify routes change notifications through a ring buffer drained
	// by a dedicated goroutine, instead of running the callback on whatever
	// thread triggered the notification.
	AsyncNotify bool

	// RingCapacity sizes the notification ring (power of two; default 64).
	RingCapacity int64
}

// Client is a convenience layer over one Engine.
type Client struct {
	engine   *Engine
	onChange func(*ChangeEvent)
	ring     *notifyRing
	closed   atomic.Bool
}

// NewClient builds a client for the given profile selector. onChange may be
// nil when the application never watches.
func NewClient(profile string, onChange func(*ChangeEvent)) (*Client, error) {
	return NewClientWithOptions(ClientOptions{Profile: profile}, onChange)
}

// NewClientWithOptions builds a client with explicit options.
func NewClientWithOptions(opts ClientOptions, onChange func(*ChangeEvent)) (*Client, error) {
	client := &Client{onChange: onChange}

	if opts.AsyncNotify && onChange != nil {
		client.ring = newNotifyRing(opts.RingCapacity, func(event *ChangeEvent) {
			client.onChange(event)
		})
		go client.ring.run()
	}

	client.engine = NewEngine(opts.Profile, func(_ *Engine, event *ChangeEvent) {
		client.dispatch(event)
	}, opts.Transport, opts.Settings)

	return client, nil
}

// dispatch routes one notification to the consumer, via the ring when
// configured.
func (c *Client) dispatch(event *ChangeEvent) {
	if c.onChange == nil || c.closed.Load() {
		return
	}
	if c.ring != nil {
		c.ring.write(event)
		return
	}
	c.onChange(event)
}

// Engine exposes the underlying engine for advanced use.
func (c *Client) Engine() *Engine {
	return c.engine
}

// Read returns the effective value for key, or nil.
func (c *Client) Read(key string) *Value {
	return c.engine.Read(ReadFlagsNone, nil, key)
}

// ReadDefault returns the value key would have after a reset.
func (c *Client) ReadDefault(key string) *Value {
	return c.engine.Read(ReadDefaultValue, nil, key)
}

// ReadUser returns the user's own value for key, ignoring locks.
func (c *Client) ReadUser(key string) *Value {
	return c.engine.Read(ReadUserValue, nil, key)
}

// List returns the sorted relative names under dir.
func (c *Client) List(dir string) []string {
	return c.engine.List(dir)
}

// ListLocks returns the locked keys under dir.
func (c *Client) ListLocks(dir string) []string {
	return c.engine.ListLocks(dir)
}

// IsWritable reports whether a write to key could currently succeed.
func (c *Client) IsWritable(key string) bool {
	return c.engine.IsWritable(key)
}

// Write synchronously writes one value (nil resets the key) and returns the
// writer's tag.
func (c *Client) Write(ctx context.Context, path string, value *Value) (string, error) {
	changeset, err := NewWriteChangeset(path, value)
	if err != nil {
		return "", err
	}
	return c.engine.ChangeSync(ctx, changeset)
}

// WriteFast optimistically writes one value (nil resets the path, which may
// be a dir). originTag is echoed in the synthetic notification.
func (c *Client) WriteFast(path string, value *Value, originTag interface{}) error {
	changeset, err := NewWriteChangeset(path, value)
	if err != nil {
		return err
	}
	return c.engine.ChangeFast(changeset, originTag)
}

// Change synchronously applies a changeset and returns the writer's tag.
func (c *Client) Change(ctx context.Context, changeset *Changeset) (string, error) {
	return c.engine.ChangeSync(ctx, changeset)
}

// ChangeFast optimistically applies a changeset.
func (c *Client) ChangeFast(changeset *Changeset, originTag interface{}) error {
	return c.engine.ChangeFast(changeset, originTag)
}

// Watch subscribes to change notifications under path without blocking.
func (c *Client) Watch(path string) {
	c.engine.WatchFast(path)
}

// Unwatch reverses one Watch.
func (c *Client) Unwatch(path string) {
	c.engine.UnwatchFast(path)
}

// WatchSync subscribes with the match rules installed before returning.
func (c *Client) WatchSync(path string) {
	c.engine.WatchSync(path)
}

// UnwatchSync reverses one WatchSync.
func (c *Client) UnwatchSync(path string) {
	c.engine.UnwatchSync(path)
}

// Sync blocks until every fast change has been handed to the writer.
func (c *Client) Sync() {
	c.engine.Sync()
}

// HasOutstanding reports whether a fast change is still in flight.
func (c *Client) HasOutstanding() bool {
	return c.engine.HasOutstanding()
}

// Close tears the client down. Notifications racing with Close are dropped.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.engine.Close()
	if c.ring != nil {
		c.ring.stop()
	}
}
