// dbus.go: D-Bus transport for strata
//
// The production Transport implementation over godbus. Connections are
// opened lazily, one per bus, and shared process-wide. Incoming writer
// signals are funnelled into HandleBusSignal from a per-connection dispatch
// goroutine, preserving arrival order per connection.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/godbus/dbus/v5"
)

// dbusTransport implements Transport over shared bus connections.
type dbusTransport struct {
	mu    sync.Mutex
	conns map[BusType]*dbus.Conn
}

var (
	defaultTransportOnce sync.Once
	defaultTransportInst *dbusTransport
)

// DefaultTransport returns the shared D-Bus transport.
func DefaultTransport() Transport {
	defaultTransportOnce.Do(func() {
		defaultTransportInst = &dbusTransport{conns: make(map[BusType]*dbus.Conn)}
	})
	return defaultTransportInst
}

// connection returns the shared connection for bus, opening it on first use
// and wiring its signal stream into the engine dispatcher.
func (t *dbusTransport) connection(bus BusType) (*dbus.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[bus]; ok {
		return conn, nil
	}

	var conn *dbus.Conn
	var err error
	switch bus {
	case BusSession:
		conn, err = dbus.SessionBus()
	case BusSystem:
		conn, err = dbus.SystemBus()
	default:
		return nil, errors.New(ErrCodeTransportFailed, "source has no bus presence")
	}
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeTransportFailed, "unable to connect to bus").
			WithContext("bus", bus.String())
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	go dispatchSignals(bus, signals)

	t.conns[bus] = conn
	return conn, nil
}

// dispatchSignals forwards writer signals from one connection into the
// process-wide engine dispatcher. Runs until the connection closes.
func dispatchSignals(bus BusType, signals <-chan *dbus.Signal) {
	for sig := range signals {
		if !strings.HasPrefix(sig.Name, WriterInterface+".") {
			continue
		}
		member := sig.Name[len(WriterInterface)+1:]
		HandleBusSignal(bus, sig.Sender, string(sig.Path), member, normaliseBody(sig.Body))
	}
}

// normaliseBody converts dbus body values into the facade's plain types.
func normaliseBody(body []interface{}) []interface{} {
	out := make([]interface{}, len(body))
	for i, item := range body {
		switch v := item.(type) {
		case dbus.ObjectPath:
			out[i] = string(v)
		default:
			out[i] = item
		}
	}
	return out
}

// CallSync performs one blocking method call and extracts the expected
// reply.
func (t *dbusTransport) CallSync(ctx context.Context, bus BusType, dest, objectPath, iface, method string, args []interface{}, expectedReply string) (interface{}, error) {
	conn, err := t.connection(bus)
	if err != nil {
		return nil, err
	}

	call := conn.Object(dest, dbus.ObjectPath(objectPath)).
		CallWithContext(ctx, iface+"."+method, 0, args...)
	return extractReply(call, expectedReply)
}

// CallAsync issues one method call and delivers the reply through handle
// from a transport goroutine.
func (t *dbusTransport) CallAsync(bus BusType, dest, objectPath, iface, method string, args []interface{}, handle *CallHandle) {
	conn, err := t.connection(bus)
	if err != nil {
		go handle.DeliverReply(nil, err)
		return
	}

	done := make(chan *dbus.Call, 1)
	conn.Object(dest, dbus.ObjectPath(objectPath)).Go(iface+"."+method, 0, done, args...)

	go func() {
		call := <-done
		reply, err := extractReply(call, handle.ExpectedReplyType())
		handle.DeliverReply(reply, err)
	}()
}

// extractReply maps a completed call onto the facade's reply shape.
func extractReply(call *dbus.Call, expectedReply string) (interface{}, error) {
	if call.Err != nil {
		return nil, errors.Wrap(call.Err, ErrCodeTransportFailed, "bus call failed").
			WithContext("method", call.Method)
	}

	switch expectedReply {
	case replyString:
		var s string
		if err := call.Store(&s); err != nil {
			return nil, errors.Wrap(err, ErrCodeTransportFailed, "unexpected reply type").
				WithContext("method", call.Method)
		}
		return s, nil
	default:
		return nil, nil
	}
}
