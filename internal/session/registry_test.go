package session_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/session"
)

var _ = Describe("Registry", func() {
	var (
		reg *session.Registry
		now time.Time
	)

	BeforeEach(func() {
		reg = session.NewRegistry()
		now = time.Now()
	})

	It("creates a new session in the NEW state, reachable by client id", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		Expect(s.State).To(Equal(session.StateNew))
		Expect(s.RemoteHost).To(Equal("203.0.113.7"))

		found, ok := reg.FindByClient(lineconn.ID(1))
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(s))
	})

	It("indexes a session by both client and backend id once attached", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		reg.AttachBackend(s, lineconn.ID(2))

		Expect(s.HasBackend).To(BeTrue())
		byBackend, ok := reg.FindByBackend(lineconn.ID(2))
		Expect(ok).To(BeTrue())
		Expect(byBackend).To(BeIdenticalTo(s))
		Expect(reg.IntegrityErrors()).To(BeEmpty())
	})

	It("removes the backend index on detach without touching the client index", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		reg.AttachBackend(s, lineconn.ID(2))
		reg.DetachBackend(s)

		Expect(s.HasBackend).To(BeFalse())
		_, ok := reg.FindByBackend(lineconn.ID(2))
		Expect(ok).To(BeFalse())
		_, ok = reg.FindByClient(lineconn.ID(1))
		Expect(ok).To(BeTrue())
	})

	It("removes both indexes on destroy", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		reg.AttachBackend(s, lineconn.ID(2))
		reg.Destroy(s)

		_, ok := reg.FindByClient(lineconn.ID(1))
		Expect(ok).To(BeFalse())
		_, ok = reg.FindByBackend(lineconn.ID(2))
		Expect(ok).To(BeFalse())
	})

	It("reports no integrity errors for a session with no backend", func() {
		reg.Create(lineconn.ID(1), "203.0.113.7", now)
		Expect(reg.IntegrityErrors()).To(BeEmpty())
	})

	It("tracks the disconnect mark independently of state", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		Expect(s.HasDisconnectMark()).To(BeFalse())

		s.SetDisconnectMark(now)
		Expect(s.HasDisconnectMark()).To(BeTrue())

		s.ClearDisconnectMark()
		Expect(s.HasDisconnectMark()).To(BeFalse())
	})

	It("considers a session authenticated only once a user is captured", func() {
		s := reg.Create(lineconn.ID(1), "203.0.113.7", now)
		Expect(s.Authenticated()).To(BeFalse())
		s.User = "wizard"
		Expect(s.Authenticated()).To(BeTrue())
	})
})
