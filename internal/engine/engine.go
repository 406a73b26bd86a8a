// Package engine implements the dispatcher main loop, the session state
// machine transitions, and the introspection surface. It is the one
// place that ties the socket layer, the registry, and the heartbeat
// controller together.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nabbar/muproxy/internal/config"
	"github.com/nabbar/muproxy/internal/heartbeat"
	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/metrics"
	"github.com/nabbar/muproxy/internal/queue"
	"github.com/nabbar/muproxy/internal/sentinel"
	"github.com/nabbar/muproxy/internal/session"
	"github.com/nabbar/muproxy/internal/xerr"
	"github.com/nabbar/muproxy/internal/xlog"
)

const pollInterval = 1 * time.Second

type Engine struct {
	cfg *config.Live
	log xlog.Logger
	met *metrics.Metrics

	mux *lineconn.Mux
	reg *session.Registry
	hb  *heartbeat.Controller

	listenerID lineconn.ID
}

func New(cfg *config.Live, log xlog.Logger, met *metrics.Metrics) *Engine {
	mux := lineconn.NewMux()
	reg := session.NewRegistry()
	hb := heartbeat.NewController(mux, reg, cfg, log, met)

	e := &Engine{cfg: cfg, log: log.WithFields(xlog.Fields{"component": "engine"}), met: met, mux: mux, reg: reg, hb: hb}
	hb.SetReconnector(e)
	return e
}

// Listen binds the client-facing listener. Call before Run.
func (e *Engine) Listen() error {
	c, err := e.mux.Listen(fmt.Sprintf(":%d", e.cfg.Get().LocalPort))
	if err != nil {
		return err
	}
	e.listenerID = c.ID
	return nil
}

// TeardownBackends forces the heartbeat connection and every session's
// backend connection closed immediately. Used when a config reload
// changes the backend address, so the next reconnect attempt targets the
// new address instead of waiting for the old one to fail on its own.
func (e *Engine) TeardownBackends(now time.Time) {
	e.hb.ForceTeardown(now)
}

// Run is the dispatcher main loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		default:
		}
		e.runIteration()
	}
}

// runIteration wraps one loop pass in a fault boundary: any unexpected
// panic is logged and the loop continues rather than taking the whole
// proxy down.
func (e *Engine) runIteration() {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(xlog.Fields{"panic": fmt.Sprintf("%v", r)}).Error("recovered panic in dispatcher iteration")
		}
	}()

	now := time.Now()
	e.hb.MaybeOpen(now)
	e.cleanupStale(now)

	for _, ev := range e.mux.Poll(pollInterval) {
		e.handleEvent(ev, time.Now())
	}

	e.reportMetrics()
}

func (e *Engine) cleanupStale(now time.Time) {
	cfg := e.cfg.Get()
	var expired []*session.Session
	e.reg.Range(func(s *session.Session) bool {
		if !s.Authenticated() && now.Sub(s.CreatedAt) > cfg.UnauthTimeout.Time() {
			expired = append(expired, s)
			return true
		}
		dropStaleQueueHead(s, now, cfg.AuthTimeout.Time())
		return true
	})
	for _, s := range expired {
		e.destroy(s, "unauthenticated session past unauth_timeout")
	}

	e.hb.CheckProbeTimeout(now)

	for _, msg := range e.reg.IntegrityErrors() {
		e.log.WithFields(xlog.Fields{"err": xerr.New(xerr.RegistryInvariant, msg, nil).Error()}).Error("registry integrity check failed")
	}
}

// dropStaleQueueHead pops a session's pending auth-correlation entry once
// it has sat at the head of the queue longer than timeout with no
// backend line to resolve it. Called both reactively, as each backend
// line arrives, and proactively from cleanupStale so a connect attempt
// with no backend reply at all still expires.
func dropStaleQueueHead(s *session.Session, now time.Time, timeout time.Duration) {
	if age, ok := s.Queue.HeadAge(now); ok && age > timeout {
		_, _ = s.Queue.Pop()
	}
}

func (e *Engine) handleEvent(ev lineconn.Event, now time.Time) {
	switch ev.Conn.Role {
	case lineconn.RoleHeartbeat:
		e.handleHeartbeatEvent(ev)
	case lineconn.RoleWorld:
		e.handleBackendEvent(ev, now)
	case lineconn.RoleClient:
		e.handleClientEvent(ev, now)
	}
}

func (e *Engine) handleHeartbeatEvent(ev lineconn.Event) {
	switch ev.Kind {
	case lineconn.EventLine:
		e.hb.OnLine()
	case lineconn.EventEOF:
		e.hb.OnEOF(time.Now())
	}
}

func (e *Engine) handleClientEvent(ev lineconn.Event, now time.Time) {
	if ev.Kind == lineconn.EventAccept {
		e.handleAccept(ev.Conn, now)
		return
	}

	s, ok := e.reg.FindByClient(ev.Conn.ID)
	if !ok {
		return
	}
	switch ev.Kind {
	case lineconn.EventLine:
		e.handleClientLine(s, ev.Line, now)
	case lineconn.EventEOF:
		e.handleClientEOF(s)
	}
}

func (e *Engine) handleBackendEvent(ev lineconn.Event, now time.Time) {
	s, ok := e.reg.FindByBackend(ev.Conn.ID)
	if !ok {
		return
	}
	switch ev.Kind {
	case lineconn.EventLine:
		e.handleBackendLine(s, ev.Line, now)
	case lineconn.EventEOF:
		e.handleBackendEOF(s, now)
	}
}

func (e *Engine) handleAccept(c *lineconn.Conn, now time.Time) {
	s := e.reg.Create(c.ID, c.RemoteIP(), now)
	e.log.WithFields(xlog.Fields{"client": c.ID, "remote": c.RemoteIP()}).Info("accepted session")
	e.connectBackend(s, false, now)
}

// ReconnectSession implements heartbeat.Reconnector: it is called once
// per session whenever the heartbeat controller learns the backend is
// reachable again.
func (e *Engine) ReconnectSession(s *session.Session, now time.Time) {
	e.connectBackend(s, true, now)
}

// connectBackend opens (or reopens) a session's backend connection. When
// wasOffline is true this is a reconnect replay after a failover
// outage; otherwise it is the initial dial for a freshly accepted
// client.
func (e *Engine) connectBackend(s *session.Session, wasOffline bool, now time.Time) {
	if wasOffline && !s.Authenticated() {
		e.destroy(s, "no credentials to replay on reconnect")
		return
	}
	if !e.hb.Online() {
		return
	}

	cfg := e.cfg.Get()
	conn, err := e.mux.Dial(cfg.MushAddress, lineconn.RoleWorld, 3*time.Second)
	if err != nil {
		dialErr := xerr.New(xerr.DialFailed, fmt.Sprintf("dialing backend for client %d", s.ClientID), err)
		e.log.WithFields(xlog.Fields{"client": s.ClientID, "err": dialErr.Error()}).Warn("backend dial failed")
		return
	}
	e.reg.AttachBackend(s, conn.ID)

	if line, ok := sentinel.RemoteHostnameLine(cfg.RemoteHostnameCmd, s.RemoteHost); ok {
		e.mux.Write(conn.ID, line)
	}

	if wasOffline {
		s.ClearDisconnectMark()
		e.mux.Write(conn.ID, sentinel.ConnectLine(s.User, s.Password))
		e.mux.Write(conn.ID, sentinel.ReconnectBarrier())
		s.State = session.StateReconnecting
		e.met.Reconnects.Inc()
		e.log.WithFields(xlog.Fields{"client": s.ClientID, "user": s.User}).Info("replaying credentials after reconnect")
	} else {
		s.State = session.StateProxying
	}
}

func (e *Engine) handleBackendLine(s *session.Session, line string, now time.Time) {
	switch s.State {
	case session.StateReconnecting:
		if sentinel.IsReconnectComplete(line) {
			e.mux.WriteRaw(s.ClientID, e.cfg.Get().OnlineNotice)
			s.ReconnectPending = false
			s.OfflineNotified = false
			s.State = session.StateProxying
			e.log.WithFields(xlog.Fields{"client": s.ClientID}).Info("reconnect complete")
		}
		// else: gag until the reconnect barrier line is seen.
	case session.StateProxying:
		e.mux.Write(s.ClientID, line)
		e.authCorrelate(s, line, now)
	default:
		// No backend socket should exist while BACKEND_LOST; ignore
		// defensively rather than forward to a client in an unknown state.
	}
}

func (e *Engine) authCorrelate(s *session.Session, line string, now time.Time) {
	kind, ok := s.Queue.PeekKind()
	if !ok || kind != queue.KindConnect {
		return
	}
	cfg := e.cfg.Get()

	switch {
	case cfg.ReSuccess.MatchString(line):
		entry, _ := s.Queue.Pop()
		s.User = entry.User
		s.Password = entry.Password
		e.met.AuthCaptured.Inc()
		e.log.WithFields(xlog.Fields{"client": s.ClientID, "user": s.User}).Info("connection captured")
	case cfg.ReFail.MatchString(line):
		_, _ = s.Queue.Pop()
	default:
		dropStaleQueueHead(s, now, cfg.AuthTimeout.Time())
	}
}

func (e *Engine) handleBackendEOF(s *session.Session, now time.Time) {
	e.mux.Close(s.BackendID)
	e.reg.DetachBackend(s)

	s.SetDisconnectMark(now)
	s.ReconnectPending = true

	if e.hb.Online() {
		e.hb.Probe()
		// state stays Proxying; DisconnectAt being set is what marks it
		// as "probing" for the purposes of OnLine/CheckProbeTimeout.
	} else {
		s.State = session.StateBackendLost
	}
}

func (e *Engine) handleClientLine(s *session.Session, line string, now time.Time) {
	if sentinel.IsIntrospect(line) {
		e.writeIntrospection(s)
		return
	}
	if cmd, ok := sentinel.ParseConnect(line); ok {
		s.Queue.Push(queue.Entry{Kind: queue.KindConnect, User: cmd.User, Password: cmd.Password, CreatedAt: now})
	}
	if s.HasBackend {
		e.mux.Write(s.BackendID, line)
	}
}

func (e *Engine) handleClientEOF(s *session.Session) {
	if s.WasOffline {
		s.WasOffline = false
		return
	}
	e.destroy(s, "client closed connection")
}

func (e *Engine) destroy(s *session.Session, reason string) {
	e.log.WithFields(xlog.Fields{"err": xerr.New(xerr.SessionDestroyed, reason, nil).Error(), "client": s.ClientID}).Info("destroying session")
	e.reg.DestroySession(e.mux, s)
	e.met.SessionsDestroyed.Inc()
}

func (e *Engine) reportMetrics() {
	total, lost, reconnecting := 0, 0, 0
	e.reg.Range(func(s *session.Session) bool {
		total++
		switch s.State {
		case session.StateBackendLost:
			lost++
		case session.StateReconnecting:
			reconnecting++
		}
		return true
	})
	e.met.Sessions.Set(float64(total))
	e.met.SessionsBackendLost.Set(float64(lost))
	e.met.SessionsReconnecting.Set(float64(reconnecting))
}

func (e *Engine) shutdown() {
	e.mux.CloseListener()
	count := 0
	e.reg.Range(func(s *session.Session) bool {
		count++
		return true
	})
	e.log.WithFields(xlog.Fields{"sessions": count}).Info("dispatcher shutting down, leaving open sessions for the OS to reap")
}
