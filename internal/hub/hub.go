// Package hub is the aggregator core: it accepts agent and query
// connections on the monitor port, owns the host registry, pulls samples on
// a fixed cadence, evaluates alarms, and answers the line-oriented query
// protocol.
//
// All registry state is owned by a single event-loop goroutine. Reader and
// writer goroutines per connection only move bytes; every decision happens
// on the loop, so no registry access ever needs a lock.
package hub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/benkietzman/centralmon/internal/catalog"
	"github.com/benkietzman/centralmon/internal/notify"
	"github.com/benkietzman/centralmon/internal/registry"
	"github.com/benkietzman/centralmon/internal/status"
	"github.com/benkietzman/centralmon/internal/wire"
)

const (
	// DefaultPullInterval is how often each agent is asked for a fresh
	// system sample and one process sample per monitored daemon.
	DefaultPullInterval = 30 * time.Second

	// DefaultSyncInterval is how often host records are refreshed from the
	// catalog without an explicit update command.
	DefaultSyncInterval = 5 * time.Minute

	// tickInterval paces the event loop's housekeeping.
	tickInterval = 250 * time.Millisecond

	// blockingTimeout bounds catalog and notification calls made from the
	// event loop. These run inline: sample arrival order stays deterministic
	// and the loop never races its own state, at the cost of stalling other
	// connections for at most this long.
	blockingTimeout = 10 * time.Second
)

// LookupFunc resolves a host name to its addresses for admission checks.
type LookupFunc func(name string) ([]netip.Addr, error)

// defaultLookup resolves through the system resolver.
func defaultLookup(name string) ([]netip.Addr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return net.DefaultResolver.LookupNetIP(ctx, "ip", name)
}

type eventKind int

const (
	evOpen eventKind = iota
	evLine
	evClosed
)

type event struct {
	kind eventKind
	c    *conn
	line string
	err  error
}

type snapshotReq struct {
	reply chan []status.Host
}

// Config carries the hub's collaborators and tunables.
type Config struct {
	// TLS is the server-side TLS configuration offered to agents. Required.
	TLS *tls.Config

	// Syncer refreshes host records from the catalog; nil disables syncing.
	Syncer *catalog.Syncer

	// Dispatcher delivers alarm notifications; nil disables them.
	Dispatcher *notify.Dispatcher

	// Contacts resolves the routing list embedded in remediation script
	// payloads; nil embeds an empty list.
	Contacts notify.ContactSource

	// PullInterval and SyncInterval default to DefaultPullInterval and
	// DefaultSyncInterval when zero.
	PullInterval time.Duration
	SyncInterval time.Duration

	// Lookup defaults to the system resolver when nil.
	Lookup LookupFunc

	Logger *slog.Logger
}

// Hub is the aggregator event loop and its connection set.
type Hub struct {
	reg      *registry.Registry
	messages registry.MessageList

	syncer     *catalog.Syncer
	dispatcher *notify.Dispatcher
	contacts   notify.ContactSource
	tlsCfg     *tls.Config
	logger     *slog.Logger

	pullInterval time.Duration
	syncInterval time.Duration
	lookup       LookupFunc
	now          func() time.Time

	events     chan event
	snapshots  chan snapshotReq
	acceptErrs chan error
	done       chan struct{}

	// Loop-owned state.
	conns    map[string]*conn
	agents   map[string]*conn
	syncNow  bool
	lastSync time.Time
}

// New returns a hub ready to Serve.
func New(cfg Config) *Hub {
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = DefaultPullInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.Lookup == nil {
		cfg.Lookup = defaultLookup
	}
	return &Hub{
		reg:          registry.New(),
		syncer:       cfg.Syncer,
		dispatcher:   cfg.Dispatcher,
		contacts:     cfg.Contacts,
		tlsCfg:       cfg.TLS,
		logger:       cfg.Logger,
		pullInterval: cfg.PullInterval,
		syncInterval: cfg.SyncInterval,
		lookup:       cfg.Lookup,
		now:          time.Now,
		events:       make(chan event),
		snapshots:    make(chan snapshotReq),
		acceptErrs:   make(chan error, 1),
		done:         make(chan struct{}),
		conns:        make(map[string]*conn),
		agents:       make(map[string]*conn),
	}
}

// Serve accepts connections on ln and runs the event loop until ctx is
// cancelled or the listener fails. A failed listener is fatal: the loop
// announces the outage, tears every connection down, and returns the accept
// error. Serve takes ownership of ln.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				select {
				case <-h.done:
				case h.acceptErrs <- err:
				}
				return
			}
			go h.serveConn(nc)
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	h.lastSync = h.now()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			_ = ln.Close()
			for _, c := range h.conns {
				close(c.out)
			}
			return ctx.Err()
		case err := <-h.acceptErrs:
			h.logger.Error("accept failed; shutting down", slog.Any("error", err))
			h.announce("Lost connection to the monitor socket.  Exiting.")
			close(h.done)
			for _, c := range h.conns {
				close(c.out)
			}
			return fmt.Errorf("hub: accept: %w", err)
		case ev := <-h.events:
			h.handleEvent(ev)
		case req := <-h.snapshots:
			req.reply <- h.buildSnapshot()
		case now := <-ticker.C:
			h.onTick(now)
		}
	}
}

// Snapshot implements status.Source by asking the event loop for the
// current host views.
func (h *Hub) Snapshot(ctx context.Context) ([]status.Host, error) {
	req := snapshotReq{reply: make(chan []status.Host, 1)}
	select {
	case h.snapshots <- req:
	case <-h.done:
		return nil, errors.New("hub: stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case hosts := <-req.reply:
		return hosts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handleEvent(ev event) {
	switch ev.kind {
	case evOpen:
		h.conns[ev.c.id] = ev.c
	case evClosed:
		h.closeConn(ev.c)
	case evLine:
		if _, live := h.conns[ev.c.id]; !live {
			return
		}
		if ev.c.host != "" {
			h.handleRecord(ev.c, ev.line)
		} else {
			h.handleCommand(ev.c, ev.line)
		}
	}
}

// closeConn tears a connection down: its outbound queue is closed (the
// writer drains and closes the socket) and, for agents, the host record is
// released so the name can register again.
func (h *Hub) closeConn(c *conn) {
	if _, live := h.conns[c.id]; !live {
		return
	}
	delete(h.conns, c.id)
	close(c.out)
	if c.host != "" {
		delete(h.agents, c.host)
		h.reg.Remove(c.host)
		h.logger.Info("agent disconnected", slog.String("host", c.host))
	}
}

// send queues chunk for delivery, dropping it when the peer has stopped
// reading.
func (h *Hub) send(c *conn, chunk string) {
	select {
	case c.out <- chunk:
	default:
		h.logger.Warn("outbound queue full; dropping reply",
			slog.String("conn", c.id),
			slog.String("host", c.host))
	}
}

// ── agent records ────────────────────────────────────────────────────────

// handleRecord ingests a sample line from a registered agent and fires
// notifications on alarm edges.
func (h *Hub) handleRecord(c *conn, line string) {
	host, ok := h.reg.Host(c.host)
	if !ok {
		return
	}
	switch {
	case strings.HasPrefix(line, "system;"):
		s, err := wire.ParseSystem(line)
		if err != nil {
			h.logger.Warn("malformed system record", slog.String("host", c.host), slog.Any("error", err))
			return
		}
		if host.ApplySystem(s) {
			h.notifyServer(host)
		}
	case strings.HasPrefix(line, "process;"):
		s, err := wire.ParseProcess(line)
		if err != nil {
			h.logger.Warn("malformed process record", slog.String("host", c.host), slog.Any("error", err))
			return
		}
		p, fired := host.ApplyProcess(s, h.now())
		if !fired {
			return
		}
		if p.Spec.Script != "" {
			h.pushScript(c, p)
		} else {
			h.notifyProcess(host, p)
		}
	default:
		h.logger.Warn("unexpected agent line", slog.String("host", c.host), slog.String("line", line))
	}
}

func (h *Hub) notifyServer(host *registry.Host) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
	defer cancel()
	h.dispatcher.ServerAlarm(ctx, host.Name, host.Alarm, host.Page)
}

func (h *Hub) notifyProcess(host *registry.Host, p *registry.Process) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
	defer cancel()
	h.dispatcher.ProcessAlarm(ctx, host.Name, p)
}

// pushScript sends the daemon's remediation command and its JSON payload
// down the agent connection.
func (h *Hub) pushScript(c *conn, p *registry.Process) {
	var contacts []catalog.Contact
	if h.contacts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
		list, err := h.contacts.ApplicationContacts(ctx, p.Spec.CatalogID)
		cancel()
		if err != nil {
			h.logger.Error("script contacts unavailable",
				slog.String("host", c.host),
				slog.String("daemon", p.Spec.Name),
				slog.Any("error", err))
		} else {
			contacts = list
		}
	}
	payload, err := notify.ScriptPayload(p, contacts)
	if err != nil {
		h.logger.Error("script payload failed", slog.String("daemon", p.Spec.Name), slog.Any("error", err))
		return
	}
	h.send(c, "script "+p.Spec.Script+"\n"+string(payload)+"\n")
	h.logger.Info("remediation script pushed",
		slog.String("host", c.host),
		slog.String("daemon", p.Spec.Name))
}

// ── query commands ───────────────────────────────────────────────────────

// handleCommand dispatches one line from an unregistered connection. Query
// connections are one-shot: the reply is queued and the connection closes
// once it drains.
func (h *Hub) handleCommand(c *conn, line string) {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "server":
		h.admit(c, firstField(rest))
	case "system":
		h.send(c, h.systemReply(firstField(rest)))
		h.closeConn(c)
	case "process":
		fields := strings.Fields(rest)
		var server, process string
		if len(fields) > 0 {
			server = fields[0]
		}
		if len(fields) > 1 {
			process = fields[1]
		}
		h.send(c, h.processReply(server, process))
		h.closeConn(c)
	case "message":
		h.send(c, "okay\n")
		if m, err := wire.ParseMessage(rest); err == nil {
			h.messages.Add(m, h.now())
		} else {
			h.logger.Warn("malformed message", slog.Any("error", err))
		}
		h.closeConn(c)
	case "messages":
		if reply := h.messagesReply(); reply != "" {
			h.send(c, reply)
		}
		h.closeConn(c)
	case "update":
		h.send(c, "okay\n")
		h.syncNow = true
		h.closeConn(c)
	default:
		h.closeConn(c)
	}
}

// admit registers an agent connection under name. The name must forward-
// resolve to the connection's source address; each name may hold only one
// live connection.
func (h *Hub) admit(c *conn, name string) {
	if name == "" {
		h.closeConn(c)
		return
	}
	if !h.authorized(name, c.remote) {
		text := "A client request arrived for " + name + " which does not match the " +
			c.remote.Unmap().String() + " IP address.  Request has been denied."
		h.announce(text)
		h.logger.Warn("agent admission denied",
			slog.String("host", name),
			slog.String("remote", c.remote.String()))
		h.closeConn(c)
		return
	}
	if _, ok := h.reg.Admit(name); !ok {
		text := "A secondary client request arrived for " + name + ".  Request has been denied."
		h.announce(text)
		h.logger.Warn("duplicate agent admission denied", slog.String("host", name))
		h.closeConn(c)
		return
	}
	c.host = name
	c.lastPull = time.Time{}
	h.agents[name] = c
	h.announce("Accepted incoming server connection from " + name + ".")
	h.logger.Info("agent admitted", slog.String("host", name))
	h.syncHost(name)
}

// authorized reports whether remote is one of name's forward-resolved
// addresses. Addresses compare in unmapped form, so an IPv4 agent matches
// whether the listener saw it as IPv4 or as an IPv4-mapped IPv6 address.
func (h *Hub) authorized(name string, remote netip.Addr) bool {
	if !remote.IsValid() {
		return false
	}
	addrs, err := h.lookup(name)
	if err != nil {
		h.logger.Warn("admission lookup failed", slog.String("host", name), slog.Any("error", err))
		return false
	}
	want := remote.Unmap()
	for _, a := range addrs {
		if a.Unmap() == want {
			return true
		}
	}
	return false
}

func (h *Hub) announce(text string) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
	defer cancel()
	h.dispatcher.Announce(ctx, text)
}

// systemReply renders the system query: every host with values when name is
// empty, otherwise the one named host.
func (h *Hub) systemReply(name string) string {
	if name == "" {
		var b strings.Builder
		for _, hostName := range h.reg.Names() {
			host, _ := h.reg.Host(hostName)
			if host.HaveValues {
				b.WriteString(host.SystemRow())
				b.WriteByte('\n')
			}
		}
		if b.Len() == 0 {
			return wire.SystemErrorRow("No servers with values exist.") + "\n"
		}
		return b.String()
	}
	host, ok := h.reg.Host(name)
	if !ok {
		return wire.SystemErrorRow("Please provide a valid server.") + "\n"
	}
	if !host.HaveValues {
		return wire.SystemErrorRow("Server has no values.") + "\n"
	}
	return host.SystemRow() + "\n"
}

// processReply renders the process query for one daemon on one host.
func (h *Hub) processReply(server, process string) string {
	if server == "" {
		return wire.ProcessErrorRow("Please provide the server.") + "\n"
	}
	host, ok := h.reg.Host(server)
	if !ok {
		return wire.ProcessErrorRow("Please provide a valid server.") + "\n"
	}
	if process == "" {
		return wire.ProcessErrorRow("Please provide the process.") + "\n"
	}
	p, ok := host.Processes[process]
	if !ok {
		return wire.ProcessErrorRow("Please provide a valid process.") + "\n"
	}
	if !p.HaveValues {
		return wire.ProcessErrorRow("Process has no values.") + "\n"
	}
	return p.DetailRow() + "\n"
}

// messagesReply renders every live broadcast message, reaping expired ones.
// An empty reply means the connection simply closes.
func (h *Hub) messagesReply() string {
	var b strings.Builder
	for _, m := range h.messages.Live(h.now()) {
		b.WriteString(m.Encode())
		b.WriteByte('\n')
	}
	return b.String()
}

// ── housekeeping ─────────────────────────────────────────────────────────

// onTick drives the pull cadence and periodic catalog syncs.
func (h *Hub) onTick(now time.Time) {
	for name, c := range h.agents {
		if !c.lastPull.IsZero() && now.Sub(c.lastPull) < h.pullInterval {
			continue
		}
		c.lastPull = now
		host, ok := h.reg.Host(name)
		if !ok {
			continue
		}
		var b strings.Builder
		b.WriteString("system\n")
		for _, daemon := range host.ProcessNames() {
			b.WriteString("process ")
			b.WriteString(daemon)
			b.WriteByte('\n')
		}
		h.send(c, b.String())
	}

	if h.syncer != nil && (h.syncNow || now.Sub(h.lastSync) >= h.syncInterval) {
		h.syncNow = false
		h.lastSync = now
		ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
		_ = h.syncer.SyncAll(ctx, h.reg)
		cancel()
	}
}

// syncHost refreshes one host from the catalog right after admission so the
// first samples already evaluate against thresholds.
func (h *Hub) syncHost(name string) {
	if h.syncer == nil {
		return
	}
	host, ok := h.reg.Host(name)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), blockingTimeout)
	defer cancel()
	if err := h.syncer.SyncHost(ctx, host); err != nil {
		h.logger.Error("admission sync failed", slog.String("host", name), slog.Any("error", err))
	}
}

// buildSnapshot renders the status API view of every host.
func (h *Hub) buildSnapshot() []status.Host {
	var hosts []status.Host
	for _, name := range h.reg.Names() {
		host, _ := h.reg.Host(name)
		view := status.Host{
			Name:      name,
			OS:        host.System.OS,
			Release:   host.System.Release,
			Processes: host.System.Processes,
			CPUUsage:  host.System.CPUUsage,
			Alarm:     host.Alarm,
			Page:      host.Page,
		}
		for _, daemon := range host.ProcessNames() {
			p := host.Processes[daemon]
			view.Daemons = append(view.Daemons, status.Daemon{
				Name:      daemon,
				Processes: p.Sample.Processes,
				Alarm:     p.Alarm,
			})
		}
		hosts = append(hosts, view)
	}
	return hosts
}

// firstField returns the first whitespace-separated field of s.
func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
