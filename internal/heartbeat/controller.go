// Package heartbeat implements the liveness oracle: a single privileged
// backend connection whose presence defines online(), and whose EOF or
// probe-timeout triggers a failover teardown across every tracked
// session.
package heartbeat

import (
	"sync/atomic"
	"time"

	"github.com/nabbar/muproxy/internal/config"
	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/metrics"
	"github.com/nabbar/muproxy/internal/sentinel"
	"github.com/nabbar/muproxy/internal/session"
	"github.com/nabbar/muproxy/internal/xatomic"
	"github.com/nabbar/muproxy/internal/xlog"
)

// Reconnector is the subset of the engine's backend-opening logic the
// heartbeat controller needs once it learns the backend is reachable
// again. It is implemented by the engine to avoid a heartbeat<->engine
// import cycle (the engine needs the heartbeat controller to read
// Online(), the heartbeat controller needs the engine to replay a
// suspended session's reconnect).
type Reconnector interface {
	ReconnectSession(s *session.Session, now time.Time)
}

type Controller struct {
	mux     *lineconn.Mux
	reg     *session.Registry
	cfg     *config.Live
	log     xlog.Logger
	metrics *metrics.Metrics

	online      xatomic.Value[bool]
	connID      xatomic.Value[lineconn.ID]
	nextAttempt xatomic.Value[time.Time]
	pingCounter uint64
	reconnector Reconnector
}

func NewController(mux *lineconn.Mux, reg *session.Registry, cfg *config.Live, log xlog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{mux: mux, reg: reg, cfg: cfg, log: log.WithFields(xlog.Fields{"component": "heartbeat"}), metrics: m}
}

func (c *Controller) conf() *config.Config { return c.cfg.Get() }

// SetReconnector wires the engine's reconnect logic in after both are
// constructed, breaking the natural import cycle.
func (c *Controller) SetReconnector(r Reconnector) { c.reconnector = r }

func (c *Controller) Online() bool { return c.online.Load() }

func (c *Controller) ConnID() (lineconn.ID, bool) {
	id := c.connID.Load()
	return id, id != 0
}

// MaybeOpen dials the heartbeat backend if it is currently offline and
// the reconnect backoff has elapsed. Called at the top of every
// dispatcher iteration.
func (c *Controller) MaybeOpen(now time.Time) {
	if c.Online() {
		return
	}
	if now.Before(c.nextAttempt.Load()) {
		return
	}
	c.nextAttempt.Store(now.Add(c.conf().HeartbeatInterval.Time()))

	conn, err := c.mux.Dial(c.conf().MushAddress, lineconn.RoleHeartbeat, 3*time.Second)
	if err != nil {
		c.log.WithFields(xlog.Fields{"err": err.Error()}).Warn("heartbeat dial failed")
		return
	}

	c.connID.Store(conn.ID)
	c.online.Store(true)
	c.metrics.HeartbeatOnline.Set(1)
	c.mux.Write(conn.ID, sentinel.ConnectLine(c.conf().HeartbeatUser, c.conf().HeartbeatPass))
	c.log.Info("heartbeat connected")

	c.reg.Range(func(s *session.Session) bool {
		s.WasOffline = true
		if c.reconnector != nil {
			c.reconnector.ReconnectSession(s, now)
		}
		return true
	})
}

// NextPingToken returns a monotonically increasing id to embed in the
// probe line for log correlation. The response is never matched back to
// this token; any line on the heartbeat socket is taken as proof of
// life, so the id is diagnostic only.
func (c *Controller) NextPingToken() uint64 {
	return atomic.AddUint64(&c.pingCounter, 1)
}

// Probe sends the PING sentinel on the heartbeat socket to find out
// whether a session's backend EOF was an intentional disconnect.
func (c *Controller) Probe() {
	id, ok := c.ConnID()
	if !ok {
		return
	}
	c.mux.Write(id, sentinel.Ping(c.NextPingToken()))
}

// OnLine handles any line read from the heartbeat socket: this confirms
// backend reachability, so every session currently marked as probing
// (DisconnectAt set) is treated as an intentional backend-side
// disconnect and destroyed.
func (c *Controller) OnLine() {
	var victims []*session.Session
	c.reg.Range(func(s *session.Session) bool {
		if s.HasDisconnectMark() {
			victims = append(victims, s)
		}
		return true
	})
	for _, s := range victims {
		c.log.WithFields(xlog.Fields{"client": s.ClientID}).Info("intentional backend disconnect confirmed, closing client")
		c.reg.DestroySession(c.mux, s)
		c.metrics.SessionsDestroyed.Inc()
	}
}

// OnEOF runs the failover teardown triggered by the heartbeat socket
// itself closing.
func (c *Controller) OnEOF(now time.Time) {
	c.teardown(now)
	c.MaybeOpen(now)
}

// CheckProbeTimeout tears down the heartbeat connection once a probed
// session has waited past ProbeTimeout with no reply. It only fires
// while the heartbeat is present: a session whose backend died while the
// heartbeat was already absent is already fully BACKEND_LOST and has
// already been notified by an earlier teardown.
func (c *Controller) CheckProbeTimeout(now time.Time) {
	if !c.Online() {
		return
	}
	timedOut := false
	c.reg.Range(func(s *session.Session) bool {
		if s.HasDisconnectMark() && now.Sub(s.DisconnectAt) > c.conf().ProbeTimeout.Time() {
			timedOut = true
			return false
		}
		return true
	})
	if timedOut {
		c.log.Warn("probe response timed out, treating heartbeat as lost")
		c.OnEOF(now)
	}
}

// ForceTeardown runs the same failover teardown as a detected heartbeat
// EOF, but without waiting for the socket to fail on its own. Used when
// the configured backend address changes underneath a live heartbeat, so
// the next MaybeOpen dials the new address instead of the old one
// eventually timing out.
func (c *Controller) ForceTeardown(now time.Time) {
	c.teardown(now)
}

func (c *Controller) teardown(now time.Time) {
	id, had := c.ConnID()
	if had {
		c.mux.Close(id)
	}
	c.online.Store(false)
	c.connID.Store(0)
	c.metrics.HeartbeatOnline.Set(0)
	c.metrics.FailoverTeardowns.Inc()

	c.reg.Range(func(s *session.Session) bool {
		if s.HasBackend {
			c.mux.Close(s.BackendID)
			c.reg.DetachBackend(s)
		}
		if !s.OfflineNotified {
			c.mux.WriteRaw(s.ClientID, c.conf().OfflineNotice)
			s.OfflineNotified = true
		}
		s.ReconnectPending = true
		s.ClearDisconnectMark()
		s.State = session.StateBackendLost
		return true
	})
}
