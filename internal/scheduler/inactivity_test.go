package scheduler_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/scheduler"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/testutil"
)

var _ = Describe("InactivityCloser", func() {
	var (
		ctx    context.Context
		st     *store.Store
		closer *scheduler.InactivityCloser
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, err := testutil.NewDB()
		Expect(err).NotTo(HaveOccurred())
		st = store.New(db)
		closer = scheduler.NewInactivityCloser(st, 15*time.Minute)
	})

	create := func(state, status string) *models.Enquiry {
		en := &models.Enquiry{
			Phone:             phone,
			RecipientID:       recipientID,
			ConversationState: state,
			Status:            status,
			CreatedAt:         t0,
			UpdatedAt:         t0,
		}
		Expect(st.CreateEnquiry(ctx, en)).To(Succeed())
		return en
	}

	It("ends idle conversations of any status and logs it", func() {
		open := create("ask_name", models.EnquiryOpen)
		handover := create("ask_email", models.EnquiryHandover)

		closer.Sweep(ctx, t0.Add(14*time.Minute))
		got, err := st.Enquiry(ctx, open.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsEnded()).To(BeFalse())

		closer.Sweep(ctx, t0.Add(15*time.Minute))
		for _, id := range []uint{open.ID, handover.ID} {
			got, err := st.Enquiry(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ConversationState).To(Equal(models.StateEnd))
			Expect(got.EndedAt).NotTo(BeNil())
			Expect(got.EndMessageSent).To(BeFalse())
		}
		got, err = st.Enquiry(ctx, handover.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(models.EnquiryHandover))

		logs, err := st.RecentLogs(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(2))
		Expect(logs[0].Level).To(Equal(models.LogInfo))
		Expect(logs[0].Message).To(Equal("Enquiry for " + phone + " ended due to inactivity (15 mins)."))
	})

	It("does not touch ended conversations", func() {
		create(models.StateEnd, models.EnquiryClosed)
		closer.Sweep(ctx, t0.Add(time.Hour))

		logs, err := st.RecentLogs(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(BeEmpty())
	})
})

var _ = Describe("Scheduler", func() {
	It("rejects an invalid expression", func() {
		s := scheduler.New()
		defer s.Stop()
		Expect(s.AddJob("not a schedule", "noop", scheduler.JobFunc(func(context.Context, time.Time) {}))).NotTo(Succeed())
		Expect(s.AddJob(scheduler.EveryMinute, "noop", scheduler.JobFunc(func(context.Context, time.Time) {}))).To(Succeed())
	})

	It("runs a delayed job once with the scheduler clock", func() {
		var (
			mu   sync.Mutex
			runs []time.Time
		)
		s := scheduler.New().WithClock(func() time.Time { return t0 })
		s.Start()
		defer s.Stop()

		s.RunAfter(10*time.Millisecond, "initial", scheduler.JobFunc(func(_ context.Context, now time.Time) {
			mu.Lock()
			defer mu.Unlock()
			runs = append(runs, now)
		}))

		count := func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(runs)
		}
		Eventually(count).Should(Equal(1))
		Consistently(count, 50*time.Millisecond).Should(Equal(1))
		mu.Lock()
		defer mu.Unlock()
		Expect(runs[0].Equal(t0)).To(BeTrue())
	})

	It("skips a delayed job when stopped first", func() {
		ran := make(chan struct{}, 1)
		s := scheduler.New()
		s.RunAfter(time.Hour, "initial", scheduler.JobFunc(func(context.Context, time.Time) { ran <- struct{}{} }))
		s.Stop()
		Expect(ran).NotTo(Receive())
	})
})
