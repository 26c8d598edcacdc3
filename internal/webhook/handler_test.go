package webhook_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"whatsapp-crm/internal/attribution"
	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/events"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/testutil"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
)

const (
	phone       = "971500000001"
	recipientID = "pn-1"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	turns []*automation.Turn
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t *automation.Turn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns = append(d.turns, t)
}

func (d *recordingDispatcher) Turns() []*automation.Turn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*automation.Turn(nil), d.turns...)
}

type mediaSource struct{}

func (mediaSource) MediaURL(_ context.Context, _ whatsapp.Credentials, mediaID string) (string, error) {
	return "https://lookaside.example/" + mediaID, nil
}

func (mediaSource) Download(_ context.Context, _ whatsapp.Credentials, _ string) ([]byte, string, error) {
	return []byte("%PDF-1.4"), "application/pdf", nil
}

func envelope(value string) string {
	return fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"waba-1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"metadata":{"display_phone_number":"97140000000","phone_number_id":%q},
		%s}}]}]}`, recipientID, value)
}

func textMessage(id, body string) string {
	return fmt.Sprintf(`{"from":%q,"id":%q,"timestamp":"1773133200","type":"text","text":{"body":%q}}`, phone, id, body)
}

func messages(msgs ...string) string {
	return envelope(fmt.Sprintf(`"contacts":[{"wa_id":%q,"profile":{"name":"Jane"}}],"messages":[%s]`,
		phone, strings.Join(msgs, ",")))
}

var _ = Describe("Handler", func() {
	var (
		ctx        context.Context
		db         *gorm.DB
		st         *store.Store
		pub        *testutil.RecordingPublisher
		dispatcher *recordingDispatcher
		handler    *webhook.Handler
		router     *gin.Engine
		now        time.Time
	)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testutil.NewDB()
		Expect(err).NotTo(HaveOccurred())
		st = store.New(db)
		_, err = testutil.SeedNumber(db, recipientID, nil)
		Expect(err).NotTo(HaveOccurred())

		now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		pub = &testutil.RecordingPublisher{}
		dispatcher = &recordingDispatcher{}
		cfg := &config.Config{VerifyToken: "secret", BufferDelay: 30 * time.Millisecond}
		sender := outbound.NewSender(&testutil.FakeProvider{}, st, pub)
		attr := attribution.New(st, 7*24*time.Hour, 16*time.Hour)
		handler = webhook.NewHandler(cfg, st, sender, attr, nil, pub, dispatcher).
			WithClock(func() time.Time { return now })

		router = gin.New()
		router.GET("/webhook", handler.VerifyWebhook)
		router.POST("/webhook", handler.HandleMessage)
	})

	AfterEach(func() {
		handler.Close()
	})

	Describe("verification", func() {
		It("echoes the challenge for the configured token", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
				"/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("12345"))
		})

		It("rejects a wrong token", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
				"/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil))
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})
	})

	It("returns 404 for other objects", func() {
		Expect(post(`{"object":"page","entry":[]}`)).To(Equal(http.StatusNotFound))
	})

	It("acknowledges malformed payloads", func() {
		Expect(post(`{"object":`)).To(Equal(http.StatusOK))
	})

	It("stores, broadcasts and buffers a text message", func() {
		Expect(post(messages(textMessage("wamid.in.1", "Hello")))).To(Equal(http.StatusOK))

		var stored models.Message
		Expect(db.Where("message_id = ?", "wamid.in.1").First(&stored).Error).To(Succeed())
		Expect(stored.Body).To(Equal("Hello"))
		Expect(stored.Direction).To(Equal(models.DirectionIncoming))
		Expect(stored.RecipientID).To(Equal(recipientID))
		Expect(stored.Timestamp.Unix()).To(Equal(int64(1773133200)))
		Expect(pub.Named(events.NewMessage)).To(HaveLen(1))

		Eventually(dispatcher.Turns).Should(HaveLen(1))
		turn := dispatcher.Turns()[0]
		Expect(turn.Body).To(Equal("Hello"))
		Expect(turn.Phone).To(Equal(phone))
		Expect(turn.ContactName).To(Equal("Jane"))
		Expect(turn.ID).NotTo(BeEmpty())
	})

	It("ignores redelivered messages", func() {
		body := messages(textMessage("wamid.in.1", "Hello"))
		Expect(post(body)).To(Equal(http.StatusOK))
		Expect(post(body)).To(Equal(http.StatusOK))

		var count int64
		Expect(db.Model(&models.Message{}).Where("message_id = ?", "wamid.in.1").Count(&count).Error).To(Succeed())
		Expect(count).To(BeEquivalentTo(1))
		Expect(pub.Named(events.NewMessage)).To(HaveLen(1))
		Eventually(dispatcher.Turns).Should(HaveLen(1))
		Consistently(dispatcher.Turns, 100*time.Millisecond).Should(HaveLen(1))
	})

	It("coalesces a burst into one turn", func() {
		Expect(post(messages(
			textMessage("wamid.in.1", "Hi"),
			textMessage("wamid.in.2", "I want to buy"),
		))).To(Equal(http.StatusOK))

		Eventually(dispatcher.Turns).Should(HaveLen(1))
		turn := dispatcher.Turns()[0]
		Expect(turn.Body).To(Equal("Hi. I want to buy"))
		Expect(turn.BatchSize).To(Equal(2))
	})

	It("carries button replies as direct replies", func() {
		msg := fmt.Sprintf(`{"from":%q,"id":"wamid.in.3","timestamp":"1773133200","type":"interactive",
			"interactive":{"type":"button_reply","button_reply":{"id":"ask_budget","title":"Buy"}}}`, phone)
		Expect(post(messages(msg))).To(Equal(http.StatusOK))

		Eventually(dispatcher.Turns).Should(HaveLen(1))
		turn := dispatcher.Turns()[0]
		Expect(turn.ReplyID).To(Equal("ask_budget"))
		Expect(turn.ReplyTitle).To(Equal("Buy"))
		Expect(turn.Body).To(Equal("Buy"))
		Expect(turn.IsDirectReply).To(BeTrue())
	})

	It("attributes a quoted campaign message", func() {
		campaign := models.Campaign{Name: "Spring Launch", Status: "completed"}
		Expect(db.Create(&campaign).Error).To(Succeed())
		Expect(st.CreateCampaignSend(ctx, &models.CampaignSend{
			MessageID: "wamid.campaign.1", CampaignID: campaign.ID, ContactPhone: phone,
			Status: models.StatusDelivered, SentAt: now.Add(-48 * time.Hour),
		})).To(Succeed())

		msg := fmt.Sprintf(`{"from":%q,"id":"wamid.in.4","timestamp":"1773133200","type":"text",
			"context":{"from":"97140000000","id":"wamid.campaign.1"},"text":{"body":"tell me more"}}`, phone)
		Expect(post(messages(msg))).To(Equal(http.StatusOK))

		var stored models.Message
		Expect(db.Where("message_id = ?", "wamid.in.4").First(&stored).Error).To(Succeed())
		Expect(stored.CampaignID).NotTo(BeNil())
		Expect(*stored.CampaignID).To(Equal(campaign.ID))

		Eventually(dispatcher.Turns).Should(HaveLen(1))
		turn := dispatcher.Turns()[0]
		Expect(turn.Campaign.ID).To(Equal(campaign.ID))
		Expect(turn.IsDirectReply).To(BeTrue())
	})

	It("does not buffer media without a caption", func() {
		msg := fmt.Sprintf(`{"from":%q,"id":"wamid.in.5","timestamp":"1773133200","type":"image",
			"image":{"id":"media-1","mime_type":"image/jpeg"}}`, phone)
		Expect(post(messages(msg))).To(Equal(http.StatusOK))

		var stored models.Message
		Expect(db.Where("message_id = ?", "wamid.in.5").First(&stored).Error).To(Succeed())
		Expect(stored.MediaID).To(Equal("media-1"))
		Expect(stored.MediaType).To(Equal("image/jpeg"))
		Consistently(dispatcher.Turns, 100*time.Millisecond).Should(BeEmpty())
	})

	It("keeps the file name of re-hosted media", func() {
		rehoster := media.NewRehoster(mediaSource{}, nil, "")
		sender := outbound.NewSender(&testutil.FakeProvider{}, st, pub)
		h := webhook.NewHandler(&config.Config{BufferDelay: 30 * time.Millisecond}, st, sender,
			attribution.New(st, 7*24*time.Hour, 16*time.Hour), rehoster, pub, dispatcher)
		defer h.Close()
		router.POST("/webhook/media", h.HandleMessage)

		named := fmt.Sprintf(`{"from":%q,"id":"wamid.in.6","timestamp":"1773133200","type":"document",
			"document":{"id":"media-6","mime_type":"application/pdf","filename":"brochure.pdf"}}`, phone)
		unnamed := fmt.Sprintf(`{"from":%q,"id":"wamid.in.7","timestamp":"1773133200","type":"document",
			"document":{"id":"media-7","mime_type":"application/pdf"}}`, phone)
		req := httptest.NewRequest(http.MethodPost, "/webhook/media", strings.NewReader(messages(named, unnamed)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		var first, second models.Message
		Expect(db.Where("message_id = ?", "wamid.in.6").First(&first).Error).To(Succeed())
		Expect(first.MediaFilename).To(Equal("brochure.pdf"))
		Expect(db.Where("message_id = ?", "wamid.in.7").First(&second).Error).To(Succeed())
		Expect(second.MediaFilename).To(Equal("media-7.pdf"))
		Expect(second.MediaType).To(Equal("application/pdf"))
	})

	Describe("statuses", func() {
		BeforeEach(func() {
			_, err := st.CreateMessage(ctx, &models.Message{
				MessageID: "wamid.out.1", From: phone, RecipientID: recipientID,
				Direction: models.DirectionOutgoing, Type: "text", Body: "Hi", Status: models.StatusSent,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		status := func(id, state, errors string) string {
			return envelope(fmt.Sprintf(`"statuses":[{"id":%q,"status":%q,"timestamp":"1773133260","recipient_id":%q%s}]`,
				id, state, phone, errors))
		}

		It("records a failure reason and broadcasts once", func() {
			errs := `,"errors":[{"code":131047,"title":"Re-engagement message","error_data":{"details":"More than 24 hours have passed"}}]`
			Expect(post(status("wamid.out.1", models.StatusFailed, errs))).To(Equal(http.StatusOK))

			var stored models.Message
			Expect(db.Where("message_id = ?", "wamid.out.1").First(&stored).Error).To(Succeed())
			Expect(stored.Status).To(Equal(models.StatusFailed))
			Expect(stored.FailureReason).To(Equal("131047 - Re-engagement message (More than 24 hours have passed)"))

			updates := pub.Named(events.MessageStatusUpdate)
			Expect(updates).To(HaveLen(1))
			payload := updates[0].Payload.(events.StatusPayload)
			Expect(payload.WAMID).To(Equal("wamid.out.1"))
			Expect(payload.From).To(Equal(phone))
		})

		It("updates the campaign send and announces it", func() {
			campaign := models.Campaign{Name: "Spring Launch", Status: "completed"}
			Expect(db.Create(&campaign).Error).To(Succeed())
			Expect(st.CreateCampaignSend(ctx, &models.CampaignSend{
				MessageID: "wamid.campaign.2", CampaignID: campaign.ID, ContactPhone: phone,
				Status: models.StatusSent, SentAt: now.Add(-time.Hour),
			})).To(Succeed())

			Expect(post(status("wamid.campaign.2", models.StatusRead, ""))).To(Equal(http.StatusOK))

			var send models.CampaignSend
			Expect(db.Where("message_id = ?", "wamid.campaign.2").First(&send).Error).To(Succeed())
			Expect(send.Status).To(Equal(models.StatusRead))
			Expect(send.FailureReason).To(BeEmpty())
			Expect(pub.Named(events.MessageStatusUpdate)).To(HaveLen(1))
			Expect(pub.Named(events.CampaignsUpdated)).To(HaveLen(1))
		})

		It("stays quiet for unknown message ids", func() {
			Expect(post(status("wamid.unknown", models.StatusRead, ""))).To(Equal(http.StatusOK))
			Expect(pub.Named(events.MessageStatusUpdate)).To(BeEmpty())
			Expect(pub.Named(events.CampaignsUpdated)).To(BeEmpty())
		})
	})
})

var _ = Describe("Aggregate", func() {
	item := func(body string, direct bool, campaign *models.Campaign) webhook.Inbound {
		return webhook.Inbound{
			Message:       &models.Message{From: phone, RecipientID: recipientID, Body: body},
			IsDirectReply: direct,
			Campaign:      campaign,
		}
	}

	It("keeps the first campaign and any direct reply", func() {
		first := &models.Campaign{ID: 1}
		second := &models.Campaign{ID: 2}
		t := webhook.Aggregate([]webhook.Inbound{
			item("hello", false, nil),
			item("yes, i am interested", true, first),
			item("", false, second),
		})
		Expect(t.Body).To(Equal("hello. yes, i am interested"))
		Expect(t.Campaign).To(BeIdenticalTo(first))
		Expect(t.IsDirectReply).To(BeTrue())
		Expect(t.BatchSize).To(Equal(3))
	})

	It("returns nil for an empty batch", func() {
		Expect(webhook.Aggregate(nil)).To(BeNil())
	})
})
