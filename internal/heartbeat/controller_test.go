package heartbeat_test

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/muproxy/internal/config"
	"github.com/nabbar/muproxy/internal/heartbeat"
	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/metrics"
	"github.com/nabbar/muproxy/internal/session"
	"github.com/nabbar/muproxy/internal/xlog"
)

func newTestConfig(mushAddr string) *config.Live {
	return config.NewLive(&config.Config{
		MushAddress:       mushAddr,
		HeartbeatUser:     "heartbeat",
		HeartbeatPass:     "secret",
		HeartbeatInterval: config.Duration(50 * time.Millisecond),
		OfflineNotice:     "offline\n",
		ProbeTimeout:      config.Duration(30 * time.Millisecond),
	})
}

type noopReconnector struct{ calls int }

func (r *noopReconnector) ReconnectSession(_ *session.Session, _ time.Time) { r.calls++ }

var _ = Describe("Controller", func() {
	var ln net.Listener

	BeforeEach(func() {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = ln.Close()
	})

	It("comes online once it dials the backend successfully", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		Expect(c.Online()).To(BeFalse())
		c.MaybeOpen(time.Now())

		Eventually(c.Online).Should(BeTrue())
		_, ok := c.ConnID()
		Expect(ok).To(BeTrue())
	})

	It("does not redial while already online", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		cfg := newTestConfig(ln.Addr().String())
		c := heartbeat.NewController(mux, reg, cfg, xlog.Default(), met)

		now := time.Now()
		c.MaybeOpen(now)
		Eventually(c.Online).Should(BeTrue())

		first, _ := c.ConnID()
		c.MaybeOpen(now.Add(time.Millisecond))
		second, _ := c.ConnID()
		Expect(second).To(Equal(first))
	})

	It("replays reconnect for every tracked session once the backend becomes reachable again", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		recon := &noopReconnector{}
		c.SetReconnector(recon)

		reg.Create(lineconn.ID(1), "203.0.113.7", time.Now())
		reg.Create(lineconn.ID(2), "203.0.113.8", time.Now())

		c.MaybeOpen(time.Now())
		Eventually(func() int { return recon.calls }).Should(Equal(2))
	})

	It("tears down every session's backend and marks it BACKEND_LOST on heartbeat EOF", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		s := reg.Create(lineconn.ID(1), "203.0.113.7", time.Now())
		s.ReconnectPending = false

		c.OnEOF(time.Now())

		Expect(s.State).To(Equal(session.StateBackendLost))
		Expect(s.ReconnectPending).To(BeTrue())
	})

	It("still sends the offline notice to a session whose ReconnectPending was already set by a prior backend EOF", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		clientLn, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = clientLn.Close() }()

		accepted := make(chan net.Conn, 1)
		go func() {
			conn, acceptErr := clientLn.Accept()
			if acceptErr == nil {
				accepted <- conn
			}
		}()

		clientConn, err := mux.Dial(clientLn.Addr().String(), lineconn.RoleClient, time.Second)
		Expect(err).NotTo(HaveOccurred())

		var serverSide net.Conn
		Eventually(accepted).Should(Receive(&serverSide))
		defer func() { _ = serverSide.Close() }()

		s := reg.Create(clientConn.ID, "203.0.113.9", time.Now())
		// Simulate handleBackendEOF having already run before teardown, as
		// happens when a session's own backend EOF is dispatched ahead of
		// the heartbeat EOF during a full backend restart.
		s.ReconnectPending = true

		c.OnEOF(time.Now())

		buf := make([]byte, 64)
		_ = serverSide.SetReadDeadline(time.Now().Add(time.Second))
		n, err := serverSide.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("offline\n"))
		Expect(s.OfflineNotified).To(BeTrue())
	})

	It("does not send a second offline notice for a session already notified this outage", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		s := reg.Create(lineconn.ID(42), "203.0.113.10", time.Now())
		s.OfflineNotified = true
		s.ReconnectPending = true

		// No client conn registered under id 42, so a second WriteRaw
		// attempt would be a silent no-op either way; this asserts the
		// flag itself is left alone rather than re-armed.
		c.OnEOF(time.Now())

		Expect(s.OfflineNotified).To(BeTrue())
	})

	It("does not re-fire the probe timeout once the heartbeat is already offline", func() {
		mux := lineconn.NewMux()
		reg := session.NewRegistry()
		met := metrics.New(prometheus.NewRegistry())
		c := heartbeat.NewController(mux, reg, newTestConfig(ln.Addr().String()), xlog.Default(), met)

		Expect(c.Online()).To(BeFalse())
		// Should be a no-op: nothing to tear down, no panics, no heartbeat dial attempted.
		c.CheckProbeTimeout(time.Now())
		Expect(c.Online()).To(BeFalse())
	})
})
