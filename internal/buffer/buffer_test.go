package buffer_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"whatsapp-crm/internal/buffer"
)

type batch struct {
	key   string
	items []string
}

type recorder struct {
	mu      sync.Mutex
	batches []batch
}

func (r *recorder) dispatch(key string, items []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch{key: key, items: items})
}

func (r *recorder) snapshot() []batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]batch, len(r.batches))
	copy(out, r.batches)
	return out
}

var _ = Describe("Buffer", func() {
	var (
		rec *recorder
		buf *buffer.Buffer[string]
	)

	BeforeEach(func() {
		rec = &recorder{}
		buf = buffer.New(50*time.Millisecond, rec.dispatch)
	})

	It("coalesces a burst into one dispatch in arrival order", func() {
		buf.Ingest("pn:1", "hi")
		time.Sleep(10 * time.Millisecond)
		buf.Ingest("pn:1", "i want")
		time.Sleep(10 * time.Millisecond)
		buf.Ingest("pn:1", "2 bedrooms")

		Eventually(rec.snapshot).Should(HaveLen(1))
		Consistently(rec.snapshot, 150*time.Millisecond).Should(HaveLen(1))
		Expect(rec.snapshot()[0]).To(Equal(batch{key: "pn:1", items: []string{"hi", "i want", "2 bedrooms"}}))
		Expect(buf.Len()).To(BeZero())
	})

	It("keeps keys independent", func() {
		buf.Ingest("pn:1", "a")
		buf.Ingest("pn:2", "b")

		Eventually(rec.snapshot).Should(HaveLen(2))
		Expect(rec.snapshot()).To(ConsistOf(
			batch{key: "pn:1", items: []string{"a"}},
			batch{key: "pn:2", items: []string{"b"}},
		))
	})

	It("starts a fresh burst after a dispatch", func() {
		buf.Ingest("pn:1", "first")
		Eventually(rec.snapshot).Should(HaveLen(1))

		buf.Ingest("pn:1", "second")
		Eventually(rec.snapshot).Should(HaveLen(2))
		Expect(rec.snapshot()[1].items).To(Equal([]string{"second"}))
	})

	It("flushes pending bursts synchronously on Close", func() {
		slow := buffer.New(time.Hour, rec.dispatch)
		slow.Ingest("pn:1", "x")
		slow.Ingest("pn:1", "y")
		Expect(slow.Len()).To(Equal(1))

		slow.Close()

		Expect(rec.snapshot()).To(Equal([]batch{{key: "pn:1", items: []string{"x", "y"}}}))
		Expect(slow.Len()).To(BeZero())
	})

	It("dispatches immediately once closed", func() {
		buf.Close()
		buf.Ingest("pn:1", "late")
		Expect(rec.snapshot()).To(Equal([]batch{{key: "pn:1", items: []string{"late"}}}))
	})

	It("serializes dispatches of the same key", func() {
		var (
			mu      sync.Mutex
			running int
			maxSeen int
			calls   int
		)
		slow := buffer.New(5*time.Millisecond, func(key string, items []string) {
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			time.Sleep(40 * time.Millisecond)
			mu.Lock()
			running--
			calls++
			mu.Unlock()
		})

		slow.Ingest("pn:1", "a")
		time.Sleep(20 * time.Millisecond)
		slow.Ingest("pn:1", "b")

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return calls
		}).Should(Equal(2))
		mu.Lock()
		defer mu.Unlock()
		Expect(maxSeen).To(Equal(1))
	})
})
