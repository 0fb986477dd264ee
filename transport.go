// transport.go: Message-bus facade for strata
//
// The engine never talks to the bus directly; it goes through the Transport
// interface so tests can substitute a scripted bus. The production
// implementation lives in dbus.go.
//
// Reply callbacks for a given handle are delivered at most once and may
// arrive on any thread.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"fmt"
	"sync/atomic"
)

// BusType identifies which message bus a source lives on.
type BusType int

const (
	// BusNone marks a source with no bus presence (read-only file layers).
	BusNone BusType = iota

	// BusSession is the per-login-session bus.
	BusSession

	// BusSystem is the system-wide bus.
	BusSystem
)

// String returns the bus name for diagnostics.
func (b BusType) String() string {
	switch b {
	case BusSession:
		return "session"
	case BusSystem:
		return "system"
	default:
		return "none"
	}
}

// Well-known writer coordinates.
const (
	// WriterInterface is the D-Bus interface of the writer service. Both
	// methods (Change, Init) and signals (Notify, WritabilityNotify) live on
	// it, and match rules filter on it.
	WriterInterface = "io.strata.Writer"

	// WriterBusName is the well-known name claimed by the writer service.
	WriterBusName = "io.strata.Writer"

	// ProxyBusName is the well-known name of the confinement proxy.
	ProxyBusName = "io.strata.Proxy"

	// Bus daemon coordinates for match-rule management.
	busDaemonName      = "org.freedesktop.DBus"
	busDaemonPath      = "/org/freedesktop/DBus"
	busDaemonInterface = "org.freedesktop.DBus"
)

// Expected reply signatures.
const (
	replyUnit   = ""  // no return arguments
	replyString = "s" // a single string (the change tag)
)

// CallHandle pairs an asynchronous call with its continuation. The transport
// hands the handle back through DeliverReply exactly once; extra deliveries
// are dropped.
type CallHandle struct {
	engine        *Engine
	expectedReply string
	callback      func(reply interface{}, err error)
	done          atomic.Bool
}

func newCallHandle(engine *Engine, expectedReply string, callback func(reply interface{}, err error)) *CallHandle {
	return &CallHandle{engine: engine, expectedReply: expectedReply, callback: callback}
}

// ExpectedReplyType returns the type signature the caller expects: "" for no
// return arguments, "s" for a single string.
func (h *CallHandle) ExpectedReplyType() string {
	if h == nil {
		return replyUnit
	}
	return h.expectedReply
}

// DeliverReply hands the call's reply (or error) to the continuation. At
// most one delivery takes effect; it may happen on any thread.
func (h *CallHandle) DeliverReply(reply interface{}, err error) {
	if h == nil || !h.done.CompareAndSwap(false, true) {
		return
	}
	h.callback(reply, err)
}

// Transport abstracts the message bus.
//
// CallSync blocks for the reply; the context carries cancellation for the
// suspending entry points (ChangeSync). CallAsync returns immediately and
// the reply arrives later through handle.DeliverReply.
//
// Signal dispatch flows the other way: the transport (or the test) invokes
// HandleBusSignal for every incoming signal.
type Transport interface {
	CallSync(ctx context.Context, bus BusType, dest, objectPath, iface, method string, args []interface{}, expectedReply string) (interface{}, error)
	CallAsync(bus BusType, dest, objectPath, iface, method string, args []interface{}, handle *CallHandle)
}

// matchRule builds the bus-daemon match rule that selects writer Notify
// signals for one source, restricted to the watched path.
func matchRule(objectPath, path string) string {
	return fmt.Sprintf("type='signal',interface='%s',path='%s',arg0path='%s'",
		WriterInterface, objectPath, path)
}
