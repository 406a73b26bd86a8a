package session_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/session"
)

var _ = Describe("DestroySession", func() {
	It("removes a session from the registry even with no live sockets behind its ids", func() {
		reg := session.NewRegistry()
		mux := lineconn.NewMux()

		s := reg.Create(lineconn.ID(1), "203.0.113.7", time.Now())
		reg.AttachBackend(s, lineconn.ID(2))

		reg.DestroySession(mux, s)

		_, ok := reg.FindByClient(lineconn.ID(1))
		Expect(ok).To(BeFalse())
		_, ok = reg.FindByBackend(lineconn.ID(2))
		Expect(ok).To(BeFalse())
	})
})
