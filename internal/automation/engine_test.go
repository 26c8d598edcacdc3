package automation_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/testutil"
)

var _ = DescribeTable("Classify",
	func(t *automation.Turn, contact *models.Contact, want automation.Intent) {
		Expect(automation.Classify(t, contact)).To(Equal(want))
	},
	Entry("stop keyword", text("Please STOP sending"), nil, automation.IntentStop),
	Entry("arabic stop keyword", text("إيقاف"), nil, automation.IntentStop),
	Entry("picked reason", text("too many messages"), nil, automation.IntentReason),
	Entry("free text after Other",
		text("too expensive for me"),
		&models.Contact{IsSubscribed: true, UnsubscribeReason: "Other"},
		automation.IntentReasonDetail),
	Entry("unsubscribed contact writes again",
		text("hello"), &models.Contact{IsSubscribed: false}, automation.IntentResubscribe),
	Entry("system button on a campaign reply",
		withCampaign(reply(automation.ReplyStuckContinue, "Continue")), nil, automation.IntentSystemReply),
	Entry("campaign interest", withCampaign(text("Yes, I am interested")), nil, automation.IntentCampaignInterested),
	Entry("arabic campaign interest", withCampaign(text("نعم، مهتم")), nil, automation.IntentCampaignInterestedAr),
	Entry("campaign rejection", withCampaign(text("Not interested")), nil, automation.IntentCampaignNotInterested),
	Entry("other campaign reply", withCampaign(text("when is the launch?")), nil, automation.IntentNone),
	Entry("ordinary message", text("hello"), &models.Contact{IsSubscribed: true}, automation.IntentBot),
	Entry("empty body", text(""), nil, automation.IntentNone),
)

func withCampaign(t *automation.Turn) *automation.Turn {
	t.Campaign = &models.Campaign{ID: 1, Name: "Spring Launch"}
	t.IsDirectReply = true
	return t
}

var _ = Describe("Engine dispatch", func() {
	const notifyNumber = "971509999999"

	var (
		ctx      context.Context
		db       *gorm.DB
		st       *store.Store
		provider *testutil.FakeProvider
		engine   *automation.Engine
		now      time.Time
		campaign models.Campaign
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testutil.NewDB()
		Expect(err).NotTo(HaveOccurred())
		st = store.New(db)

		flow, err := testutil.SeedFlow(db)
		Expect(err).NotTo(HaveOccurred())
		_, err = testutil.SeedNumber(db, recipientID, &flow.ID)
		Expect(err).NotTo(HaveOccurred())

		campaign = models.Campaign{Name: "Spring Launch", TemplateName: "spring_launch_v2", Status: "completed"}
		Expect(db.Create(&campaign).Error).To(Succeed())

		now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		provider = &testutil.FakeProvider{}
		sender := outbound.NewSender(provider, st, &testutil.RecordingPublisher{}).WithClock(clock)
		engine = automation.NewEngine(st, sender, automation.Options{
			CoolOff:          time.Hour,
			LeadNotifyNumber: notifyNumber,
		}).WithClock(clock)
	})

	campaignTurn := func(body string) *automation.Turn {
		t := text(body)
		t.Campaign = &campaign
		t.IsDirectReply = true
		t.ContactName = "Jane"
		return t
	}

	It("asks for a reason on stop without unsubscribing yet", func() {
		contact := models.Contact{PhoneNumber: phone, Name: "Jane", IsSubscribed: true}
		Expect(st.CreateContact(ctx, &contact)).To(Succeed())

		engine.Dispatch(ctx, text("stop"))

		sent := provider.Sent()
		Expect(sent).To(HaveLen(2))
		Expect(sent[0].Body).To(Equal("We've received your request to unsubscribe. Before you go, could you tell us why?"))
		Expect(sent[1].Kind).To(Equal("list"))
		Expect(sent[1].Button).To(Equal("Reason"))
		rows := sent[1].Sections[0].Rows
		Expect(rows).To(HaveLen(5))
		Expect(rows[0].ID).To(Equal("reason_too_many_messages"))
		Expect(rows[4].Title).To(Equal("Other"))

		reloaded, err := st.ContactByPhone(ctx, phone)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.IsSubscribed).To(BeTrue())
	})

	It("unsubscribes on a picked reason and restores the list on return", func() {
		list := models.ContactList{Name: "Dubai Buyers"}
		Expect(db.Create(&list).Error).To(Succeed())
		contact := models.Contact{PhoneNumber: phone, Name: "Jane", IsSubscribed: true, ContactListID: &list.ID}
		Expect(st.CreateContact(ctx, &contact)).To(Succeed())

		engine.Dispatch(ctx, reply("reason_not_relevant", "Not relevant"))

		c, err := st.ContactByPhone(ctx, phone)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.IsSubscribed).To(BeFalse())
		Expect(c.UnsubscribeReason).To(Equal("Not relevant"))
		Expect(c.UnsubscribeDate).NotTo(BeNil())
		Expect(*c.PreviousContactListID).To(Equal(list.ID))
		unsub, err := st.ContactListByName(ctx, "Unsubscriber List")
		Expect(err).NotTo(HaveOccurred())
		Expect(*c.ContactListID).To(Equal(unsub.ID))
		Expect(provider.Bodies()).To(ContainElement("You’ve been unsubscribed. Thank you for your feedback."))

		engine.Dispatch(ctx, text("hi again"))

		c, err = st.ContactByPhone(ctx, phone)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.IsSubscribed).To(BeTrue())
		Expect(*c.ContactListID).To(Equal(list.ID))
		Expect(c.PreviousContactListID).To(BeNil())
		Expect(c.UnsubscribeReason).To(BeEmpty())
		Expect(provider.Sent()[len(provider.Sent())-1].Body).To(Equal("Hello and welcome back! How can we help you"))
	})

	It("asks for free text on Other and records it as the reason", func() {
		contact := models.Contact{PhoneNumber: phone, IsSubscribed: true}
		Expect(st.CreateContact(ctx, &contact)).To(Succeed())

		engine.Dispatch(ctx, reply("reason_other", "Other"))
		Expect(provider.Bodies()).To(Equal([]string{"Please type your reason below so we can improve."}))

		engine.Dispatch(ctx, text("I already bought elsewhere"))
		c, err := st.ContactByPhone(ctx, phone)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.IsSubscribed).To(BeFalse())
		Expect(c.UnsubscribeReason).To(Equal("I already bought elsewhere"))
	})

	It("hands over an interested campaign reply and keeps the bot quiet", func() {
		engine.Dispatch(ctx, campaignTurn("Yes, I am interested"))

		en, err := st.LatestEnquiry(ctx, phone, recipientID)
		Expect(err).NotTo(HaveOccurred())
		Expect(en.Status).To(Equal(models.EnquiryHandover))
		Expect(en.ConversationState).To(Equal(models.StateEnd))
		Expect(en.HandoverReason).To(Equal("Campaign Interested"))
		Expect(en.EntrySource).To(Equal("Campaign: Spring Launch"))
		Expect(en.Name).To(Equal("Jane"))
		Expect(en.CompletionFollowUpSent).To(BeTrue())
		Expect(provider.Bodies()).To(ContainElement(HavePrefix("Your interest has been noted.")))

		provider.Reset()
		now = now.Add(5 * time.Minute)
		engine.Dispatch(ctx, text("thanks"))
		Expect(provider.Sent()).To(BeEmpty())
	})

	It("closes the enquiry for a not interested reply", func() {
		engine.Dispatch(ctx, campaignTurn("not interested"))

		en, err := st.LatestEnquiry(ctx, phone, recipientID)
		Expect(err).NotTo(HaveOccurred())
		Expect(en.Status).To(Equal(models.EnquiryClosed))
		Expect(en.HandoverReason).To(Equal("Campaign Not Interested"))
	})

	It("routes a first direct campaign reply as a new lead", func() {
		engine.Dispatch(ctx, campaignTurn("Yes, I am interested"))

		var notice *testutil.Sent
		for _, s := range provider.Sent() {
			if s.To == notifyNumber {
				s := s
				notice = &s
			}
		}
		Expect(notice).NotTo(BeNil())
		Expect(notice.Body).To(Equal("NEW LEAD RECEIVED\n\nUnknown\n" + phone + "\nspring_launch_v2\nWhatsApp"))

		c, err := st.Campaign(ctx, campaign.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.ReplyCount).To(Equal(1))

		logs, err := st.RecentLogs(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(ContainElement(HaveField("Level", models.LogSuccess)))
	})

	It("does not count an opt-out as a lead", func() {
		engine.Dispatch(ctx, campaignTurn("please remove me"))

		c, err := st.Campaign(ctx, campaign.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.ReplyCount).To(BeZero())
		for _, s := range provider.Sent() {
			Expect(s.To).NotTo(Equal(notifyNumber))
		}
	})

	It("sends nothing when the business number has no credentials", func() {
		Expect(db.Model(&models.WabaAccount{}).Where("1 = 1").Update("access_token", "").Error).To(Succeed())

		engine.Dispatch(ctx, text("Hi"))

		Expect(provider.Sent()).To(BeEmpty())
		_, err := st.LatestEnquiry(ctx, phone, recipientID)
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
