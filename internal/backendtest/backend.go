// Package backendtest provides an in-process backend for tests: it serves
// the handshake for organizations, devices and an administration token,
// and answers commands through a dispatch registry.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cirrusvault/cirrus-go/internal/testpki"
	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/dispatch"
	"github.com/cirrusvault/cirrus-go/pkg/handshake"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
	"github.com/cirrusvault/cirrus-go/pkg/version"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Host is the address the backend listens on. Certificates are issued for it.
const Host = "127.0.0.1"

// Behavior scripts how the backend treats new connections.
type Behavior struct {
	// CloseBeforeChallenge closes each connection right after accepting it.
	CloseBeforeChallenge bool

	// ChallengeDelay stalls before sending the challenge.
	ChallengeDelay time.Duration

	// ForceResult replaces the computed handshake result.
	ForceResult wire.ResultCode

	// ServerAPIVersion is the version reported in the result (default: current).
	ServerAPIVersion string

	// SupportedAPIVersions are advertised in the challenge (default: none).
	SupportedAPIVersions []string

	// CloseAfterHandshake closes each connection right after an ok result.
	CloseAfterHandshake bool
}

// Stats counts backend activity.
type Stats struct {
	Accepted           int64
	Active             int
	MaxActive          int
	HandshakesAccepted int64
	HandshakesRejected int64
	Requests           int64
}

// Organization is an organization known to the backend.
type Organization struct {
	ID             identity.OrganizationID
	RootKey        *identity.SigningKey
	BootstrapToken string

	devices map[identity.DeviceID]identity.VerifyKey
	revoked map[identity.DeviceID]bool
}

// RootVerifyKey returns the organization root verify key.
func (o *Organization) RootVerifyKey() identity.VerifyKey {
	return o.RootKey.VerifyKey()
}

// Backend is a fake backend server.
type Backend struct {
	logger     *slog.Logger
	protoLog   log.Logger
	address    string
	adminToken string
	useTLS     bool
	alpn       []string

	server   *transport.Server
	registry *dispatch.Registry
	ca       *testpki.CA
	caDir    string
	caFile   string

	mu        sync.Mutex
	behavior  Behavior
	orgs      map[identity.OrganizationID]*Organization
	active    map[*transport.Transport]struct{}
	maxActive int

	handshakesOK  atomic.Int64
	handshakesBad atomic.Int64
	requests      atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithTLS serves TLS with a certificate from a freshly generated CA.
func WithTLS() Option {
	return func(b *Backend) { b.useTLS = true }
}

// WithALPN replaces the ALPN protocols offered over TLS.
func WithALPN(protos ...string) Option {
	return func(b *Backend) { b.alpn = protos }
}

// WithAdministrationToken sets the accepted administration token.
func WithAdministrationToken(token string) Option {
	return func(b *Backend) { b.adminToken = token }
}

// WithBehavior sets the initial behavior.
func WithBehavior(beh Behavior) Option {
	return func(b *Backend) { b.behavior = beh }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithProtocolLogger records backend-side protocol events.
func WithProtocolLogger(l log.Logger) Option {
	return func(b *Backend) { b.protoLog = l }
}

// WithAddress sets the listen address (default: 127.0.0.1:0).
func WithAddress(addr string) Option {
	return func(b *Backend) { b.address = addr }
}

// New creates and starts a backend.
func New(ctx context.Context, opts ...Option) (*Backend, error) {
	b := &Backend{
		logger:   slog.Default(),
		address:  net.JoinHostPort(Host, "0"),
		registry: dispatch.NewRegistry(),
		orgs:     make(map[identity.OrganizationID]*Organization),
		active:   make(map[*transport.Transport]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.registry.Register("ping", b.countRequest(dispatch.Ping))

	cfg := transport.ServerConfig{
		Address:        b.address,
		Logger:         b.logger,
		ProtocolLogger: b.protoLog,
		Handler:        b.serve,
		OnError: func(err error) {
			b.logger.Debug("backend connection error", "error", err)
		},
	}

	if b.useTLS {
		if err := b.setupTLS(&cfg); err != nil {
			return nil, err
		}
	}

	srv, err := transport.NewServer(cfg)
	if err != nil {
		b.cleanupTLS()
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		b.cleanupTLS()
		return nil, err
	}
	b.server = srv
	return b, nil
}

func (b *Backend) setupTLS(cfg *transport.ServerConfig) error {
	ca, err := testpki.NewCA("backendtest CA")
	if err != nil {
		return err
	}
	cert, err := ca.ServerCert(Host, "localhost")
	if err != nil {
		return err
	}
	tlsConf, err := transport.NewServerTLSConfig(cert)
	if err != nil {
		return err
	}
	if b.alpn != nil {
		tlsConf.NextProtos = b.alpn
	}

	dir, err := os.MkdirTemp("", "backendtest-ca-")
	if err != nil {
		return fmt.Errorf("create CA dir: %w", err)
	}
	caFile, err := ca.WriteCertFile(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	b.ca, b.caDir, b.caFile = ca, dir, caFile
	cfg.TLSConfig = tlsConf
	return nil
}

func (b *Backend) cleanupTLS() {
	if b.caDir != "" {
		os.RemoveAll(b.caDir)
	}
}

// Close stops the backend and closes every connection.
func (b *Backend) Close() {
	_ = b.server.Stop()
	b.cleanupTLS()
}

// Port returns the listening port.
func (b *Backend) Port() uint16 {
	return uint16(b.server.Addr().(*net.TCPAddr).Port)
}

// UseTLS reports whether the backend serves TLS.
func (b *Backend) UseTLS() bool {
	return b.useTLS
}

// CA returns the certificate authority of a TLS backend, or nil.
func (b *Backend) CA() *testpki.CA {
	return b.ca
}

// CAFile returns the PEM file of the CA of a TLS backend, or "".
func (b *Backend) CAFile() string {
	return b.caFile
}

// Registry returns the command registry served after the handshake.
func (b *Backend) Registry() *dispatch.Registry {
	return b.registry
}

// SetBehavior replaces the behavior for new connections.
func (b *Backend) SetBehavior(beh Behavior) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.behavior = beh
}

// AddOrganization registers an organization with a fresh root key.
func (b *Backend) AddOrganization(id identity.OrganizationID) (*Organization, error) {
	if _, err := identity.ParseOrganizationID(id.String()); err != nil {
		return nil, err
	}
	root, err := identity.GenerateSigningKey()
	if err != nil {
		return nil, err
	}

	org := &Organization{
		ID:             id,
		RootKey:        root,
		BootstrapToken: "bootstrap-" + id.String(),
		devices:        make(map[identity.DeviceID]identity.VerifyKey),
		revoked:        make(map[identity.DeviceID]bool),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.orgs[id]; dup {
		return nil, fmt.Errorf("organization %s already exists", id)
	}
	b.orgs[id] = org
	return org, nil
}

// AddDevice registers a device of org and returns its signing key.
func (b *Backend) AddDevice(org identity.OrganizationID, device identity.DeviceID) (*identity.SigningKey, error) {
	key, err := identity.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	if err := b.RegisterDevice(org, device, key.VerifyKey()); err != nil {
		return nil, err
	}
	return key, nil
}

// RegisterDevice registers a device of org with a known verify key.
func (b *Backend) RegisterDevice(org identity.OrganizationID, device identity.DeviceID, key identity.VerifyKey) error {
	if _, err := identity.ParseDeviceID(device.String()); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orgs[org]
	if !ok {
		return fmt.Errorf("unknown organization %s", org)
	}
	o.devices[device] = key
	return nil
}

// RevokeDevice marks a device of org as revoked.
func (b *Backend) RevokeDevice(org identity.OrganizationID, device identity.DeviceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orgs[org]; ok {
		o.revoked[device] = true
	}
}

// ServerAddr returns the administration address of the backend.
func (b *Backend) ServerAddr() backendaddr.Addr {
	a, _ := backendaddr.NewServerAddr(Host, b.Port(), b.useTLS)
	return a
}

// OrganizationAddr returns the address of a registered organization.
func (b *Backend) OrganizationAddr(org identity.OrganizationID) (backendaddr.Addr, error) {
	o, err := b.organization(org)
	if err != nil {
		return backendaddr.Addr{}, err
	}
	return backendaddr.NewOrganizationAddr(Host, b.Port(), b.useTLS, o.ID, o.RootVerifyKey())
}

// BootstrapAddr returns the bootstrap address of a registered organization.
func (b *Backend) BootstrapAddr(org identity.OrganizationID) (backendaddr.Addr, error) {
	o, err := b.organization(org)
	if err != nil {
		return backendaddr.Addr{}, err
	}
	return backendaddr.NewBootstrapAddr(Host, b.Port(), b.useTLS, o.ID, o.BootstrapToken)
}

func (b *Backend) organization(id identity.OrganizationID) (*Organization, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orgs[id]
	if !ok {
		return nil, fmt.Errorf("unknown organization %s", id)
	}
	return o, nil
}

// Stats returns a snapshot of the counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	active, maxActive := len(b.active), b.maxActive
	b.mu.Unlock()

	return Stats{
		Accepted:           b.server.AcceptedCount(),
		Active:             active,
		MaxActive:          maxActive,
		HandshakesAccepted: b.handshakesOK.Load(),
		HandshakesRejected: b.handshakesBad.Load(),
		Requests:           b.requests.Load(),
	}
}

// DropConnections closes every authenticated connection.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	conns := make([]*transport.Transport, 0, len(b.active))
	for tr := range b.active {
		conns = append(conns, tr)
	}
	b.mu.Unlock()

	for _, tr := range conns {
		tr.Close()
	}
}

// serve runs the handshake then answers commands until the client leaves.
func (b *Backend) serve(ctx context.Context, tr *transport.Transport) {
	b.mu.Lock()
	beh := b.behavior
	b.mu.Unlock()

	if beh.CloseBeforeChallenge {
		return
	}
	if beh.ChallengeDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(beh.ChallengeDelay):
		}
	}

	if !b.handshake(ctx, tr, beh) {
		b.handshakesBad.Add(1)
		return
	}
	b.handshakesOK.Add(1)
	if beh.CloseAfterHandshake {
		return
	}

	b.track(tr)
	defer b.untrack(tr)

	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosedByPeer) && !errors.Is(err, transport.ErrConnectionClosed) {
				tr.Logger().Debug("backend recv failed", "error", err)
			}
			return
		}
		resp, err := b.registry.Dispatch(ctx, data)
		if err != nil {
			tr.Logger().Debug("backend dispatch failed", "error", err)
			return
		}
		if err := tr.Send(ctx, resp); err != nil {
			return
		}
	}
}

// handshake runs the server side of the handshake and reports whether the
// client was accepted.
func (b *Backend) handshake(ctx context.Context, tr *transport.Transport, beh Behavior) bool {
	var opts []handshake.ServerOption
	if beh.ServerAPIVersion != "" {
		v, err := version.Parse(beh.ServerAPIVersion)
		if err != nil {
			tr.Logger().Debug("bad server API version", "error", err)
			return false
		}
		opts = append(opts, handshake.WithServerAPIVersion(v))
	}
	if len(beh.SupportedAPIVersions) > 0 {
		opts = append(opts, handshake.WithSupportedAPIVersions(beh.SupportedAPIVersions...))
	}
	srv := handshake.NewServerHandshake(opts...)

	challenge, err := srv.BuildChallenge()
	if err != nil {
		return false
	}
	if err := tr.Send(ctx, challenge); err != nil {
		return false
	}
	tr.LogHandshake(log.DirectionOut, log.HandshakeEvent{Step: wire.HandshakeChallenge})

	data, err := tr.Recv(ctx)
	if err != nil {
		return false
	}
	answer, err := srv.ProcessAnswer(data)
	if err == nil {
		err = b.verify(srv, answer)
	}
	if answer != nil {
		tr.LogHandshake(log.DirectionIn, log.HandshakeEvent{
			Step:       wire.HandshakeAnswer,
			AnswerType: answer.Type.String(),
			APIVersion: answer.ClientAPIVersion,
		})
	}

	code := handshake.ResultCodeFor(err)
	if beh.ForceResult != "" {
		code = beh.ForceResult
	}
	help := ""
	if err != nil {
		help = err.Error()
	}

	result, err := srv.BuildResult(code, help)
	if err != nil {
		return false
	}
	if err := tr.Send(ctx, result); err != nil {
		return false
	}
	tr.LogHandshake(log.DirectionOut, log.HandshakeEvent{Step: wire.HandshakeResult, Result: string(code)})

	return code == wire.ResultOK
}

// verify checks the identity carried by an answer.
func (b *Backend) verify(srv *handshake.ServerHandshake, answer *wire.Answer) error {
	if answer.Type == wire.AnswerAdministration {
		if b.adminToken == "" || answer.Token != b.adminToken {
			return &handshake.RejectedError{Result: wire.ResultBadAdminToken}
		}
		return nil
	}

	b.mu.Lock()
	org, ok := b.orgs[identity.OrganizationID(answer.OrganizationID)]
	var (
		deviceKey identity.VerifyKey
		known     bool
		revoked   bool
	)
	if ok {
		deviceKey, known = org.devices[identity.DeviceID(answer.DeviceID)]
		revoked = org.revoked[identity.DeviceID(answer.DeviceID)]
	}
	b.mu.Unlock()

	if !ok {
		return &handshake.RejectedError{Result: wire.ResultUnknownOrganization}
	}
	if answer.RootVerifyKey != nil {
		rvk := org.RootVerifyKey()
		if string(answer.RootVerifyKey) != string(rvk[:]) {
			return &handshake.RejectedError{Result: wire.ResultRVKMismatch}
		}
	}

	if answer.Type != wire.AnswerAuthenticated {
		return nil
	}
	if !known {
		return &handshake.RejectedError{Result: wire.ResultBadIdentity, Help: "unknown device"}
	}
	if revoked {
		return handshake.ErrRevokedDevice
	}
	return srv.VerifySignedAnswer(deviceKey)
}

func (b *Backend) track(tr *transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[tr] = struct{}{}
	b.maxActive = max(b.maxActive, len(b.active))
}

func (b *Backend) untrack(tr *transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, tr)
}

func (b *Backend) countRequest(h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, req *wire.Request) (any, error) {
		b.requests.Add(1)
		return h(ctx, req)
	}
}
