// Package upgrade implements the ConnectionUpgrader (spec.md §3, §4.5,
// §6): a registry of named protocol-handler factories (in practice,
// "websocket") plus the RFC 6455 handshake math needed to answer a
// request with a 101 Switching Protocols response. The frame codec itself
// stays out of scope, as spec.md requires; only the upgrade negotiation
// contract is implemented here.
//
// Unlike the teacher's process-wide singletons (mux.DefaultServeMux and
// friends), this registry is an explicit, constructible value, per
// spec.md §9's recommended re-architecture: "make the registry an
// explicit field of HTTPServer ... so tests and multi-tenant hosting do
// not share global state."
package upgrade

import (
	"crypto/sha1"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/badu/nio-http/headers"
	"github.com/badu/nio-http/internal/errs"
)

// websocketGUID is the RFC 6455 magic string used to compute
// Sec-WebSocket-Accept from Sec-WebSocket-Key.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// SupportedVersion is the only Sec-WebSocket-Version this upgrader
// understands (spec.md §4.5, §6).
const SupportedVersion = "13"

// ConnHandler is what a factory hands back: the per-connection object
// that takes over the raw connection once the 101 response has been
// written. It plays the role of spec.md's "per-connection channel
// handler", standing in for the out-of-scope frame codec.
type ConnHandler interface {
	Serve(conn net.Conn)
}

// NegotiationResult is what Factory.Negotiate returns: headers to add to
// the 101 response (e.g. Sec-WebSocket-Extensions) plus any extension
// handlers to insert before the main handler in the pipeline.
type NegotiationResult struct {
	ResponseHeaders   map[string][]string
	ExtensionHandlers []ConnHandler
}

// Factory is ProtocolHandlerFactory (spec.md §3, §9).
type Factory interface {
	// Name is the protocol name this factory answers for (e.g.
	// "websocket"), matched case-insensitively against the client's
	// Upgrade header.
	Name() string

	// IsServiceRegistered reports whether a service is registered at the
	// given request path.
	IsServiceRegistered(path string) bool

	// HandlerFor produces the per-connection handler for a request that
	// has already passed header validation and path lookup.
	HandlerFor(path string) (ConnHandler, error)

	// Negotiate computes any extension headers/handlers for the given
	// client-offered extensions and protocols. Implementations that do
	// not support extensions may return a zero NegotiationResult.
	Negotiate(offeredProtocols, offeredExtensions []string) NegotiationResult
}

// Registry is the upgrader's Factory lookup table: last-writer-wins
// registration, case-insensitive lookups (spec.md §3).
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Factory)}
}

// Register adds or replaces the factory for its own Name(), lowercased.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(f.Name())] = f
}

// Lookup finds a factory by protocol name, case-insensitive.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[strings.ToLower(name)]
	return f, ok
}

// Negotiation is the outcome of evaluating an incoming request's upgrade
// headers against the registry.
type Negotiation struct {
	Factory        Factory
	Accept         string // Sec-WebSocket-Accept
	Protocol       string // selected Sec-WebSocket-Protocol, if any
	ExtraHeaders   map[string][]string
	ExtensionChain []ConnHandler
}

// Evaluate implements spec.md §4.5's upgrade preconditions: the request
// must advertise an Upgrade compatible with a registered factory, with a
// service registered at the request path, a single Sec-WebSocket-Key, a
// single Sec-WebSocket-Version equal to 13. Returns a *errs.Error with
// Kind KindUpgradeFailure and a diagnostic Message describing exactly
// which precondition failed, matching the specific messages spec.md §4.5
// and §6 call for.
//
// keyLineCount and versionLineCount are the raw number of
// Sec-WebSocket-Key/-Version header lines the caller saw on the wire
// before merging them into h: h.Get alone cannot distinguish "one
// header" from "two identical headers coalesced into one value" once
// headers.Container's non-singleton merge rule has joined them with
// ", ", so the duplicate-header checks below are driven by these counts
// instead of len(h.Get(...)).
func (r *Registry) Evaluate(h *headers.Container, path string, keyLineCount, versionLineCount int) (*Negotiation, *errs.Error) {
	upgradeVals := h.Get("Upgrade")
	if len(upgradeVals) == 0 {
		return nil, nil // not an upgrade request at all: not an error
	}

	factory, ok := r.Lookup(strings.TrimSpace(upgradeVals[0]))
	if !ok {
		return nil, nil // Upgrade header present but names an unregistered protocol: treat as ordinary request
	}

	keyVals := h.Get("Sec-WebSocket-Key")
	switch {
	case keyLineCount > 1:
		return nil, errs.New(errs.KindUpgradeFailure, "duplicate Sec-WebSocket-Key header")
	case keyLineCount == 0 || strings.TrimSpace(keyVals[0]) == "":
		return nil, errs.New(errs.KindUpgradeFailure, "missing Sec-WebSocket-Key")
	}

	verVals := h.Get("Sec-WebSocket-Version")
	switch {
	case versionLineCount > 1:
		return nil, errs.New(errs.KindUpgradeFailure, "duplicate Sec-WebSocket-Version header")
	case versionLineCount == 0:
		return nil, errs.New(errs.KindUpgradeFailure, "missing Sec-WebSocket-Version")
	case verVals[0] != SupportedVersion:
		return nil, errs.New(errs.KindUpgradeFailure,
			"only WebSocket protocol version "+SupportedVersion+" is supported")
	}

	if !factory.IsServiceRegistered(path) {
		return nil, errs.New(errs.KindUpgradeFailure, "no service registered at "+strconv.Quote(path))
	}

	var offeredProtocols []string
	if pv := h.Get("Sec-WebSocket-Protocol"); len(pv) > 0 {
		offeredProtocols = splitCommaList(pv[0])
	}
	var offeredExtensions []string
	if ev := h.Get("Sec-WebSocket-Extensions"); len(ev) > 0 {
		offeredExtensions = splitCommaList(ev[0])
	}

	neg := factory.Negotiate(offeredProtocols, offeredExtensions)

	selectedProtocol := ""
	if len(offeredProtocols) > 0 {
		selectedProtocol = offeredProtocols[0]
	}

	return &Negotiation{
		Factory:        factory,
		Accept:         AcceptKey(keyVals[0]),
		Protocol:       selectedProtocol,
		ExtraHeaders:   neg.ResponseHeaders,
		ExtensionChain: neg.ExtensionHandlers,
	}, nil
}

// AcceptKey computes Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 §4.2.2. This is fixed protocol math with
// no higher-level substitute anywhere in the retrieved pack, so it is
// implemented directly on crypto/sha1 + encoding/base64 rather than a
// third-party dependency.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key)))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
