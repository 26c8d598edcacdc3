package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/testutil"
)

var _ = Describe("API", func() {
	var (
		ctx    context.Context
		db     *gorm.DB
		st     *store.Store
		router *gin.Engine
		flow   *models.BotFlow
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testutil.NewDB()
		Expect(err).NotTo(HaveOccurred())
		st = store.New(db)
		flow, err = testutil.SeedFlow(db)
		Expect(err).NotTo(HaveOccurred())

		router = gin.New()
		api.RegisterRoutes(router, st)
	})

	Describe("flows", func() {
		It("returns a flow with its nodes", func() {
			w := do(http.MethodGet, fmt.Sprintf("/api/flows/%d", flow.ID), "")
			Expect(w.Code).To(Equal(http.StatusOK))

			var got models.BotFlow
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got.StartNodeKey).To(Equal("welcome"))
			Expect(got.Nodes).To(HaveLen(len(flow.Nodes)))
		})

		It("answers 404 for unknown flows and 400 for bad ids", func() {
			Expect(do(http.MethodGet, "/api/flows/999", "").Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, "/api/flows/abc", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("replaces the node set of a valid graph", func() {
			body := `{"startNodeKey":"hello","nodes":[
				{"nodeKey":"hello","messageType":"text","messageText":"Hi! What is your name?","saveToField":"name","nextNodeKey":"pick"},
				{"nodeKey":"pick","messageType":"buttons","messageText":"Buy or rent?","buttons":[
					{"title":"Buy","nextNodeKey":"END"},{"title":"Rent","nextNodeKey":"END"}]},
				{"nodeKey":"END","messageType":"text","messageText":"Thanks!"}]}`
			w := do(http.MethodPut, fmt.Sprintf("/api/flows/%d/nodes", flow.ID), body)
			Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())

			got, err := st.BotFlowWithNodes(ctx, flow.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.StartNodeKey).To(Equal("hello"))
			Expect(got.Nodes).To(HaveLen(3))
			Expect(got.Nodes[1].Buttons.Data()).To(HaveLen(2))
		})

		It("rejects dangling references with the offending nodes", func() {
			body := `{"nodes":[
				{"nodeKey":"welcome","messageType":"text","messageText":"Hi","nextNodeKey":"nowhere"}]}`
			w := do(http.MethodPut, fmt.Sprintf("/api/flows/%d/nodes", flow.ID), body)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))

			var resp struct {
				Issues []struct {
					NodeKey string `json:"nodeKey"`
					Problem string `json:"problem"`
				} `json:"issues"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Issues).To(HaveLen(1))
			Expect(resp.Issues[0].NodeKey).To(Equal("welcome"))
			Expect(resp.Issues[0].Problem).To(ContainSubstring("nowhere"))

			got, err := st.BotFlowWithNodes(ctx, flow.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Nodes).To(HaveLen(len(flow.Nodes)))
		})

		It("rejects malformed node definitions", func() {
			body := `{"nodes":[{"nodeKey":"welcome","messageType":"video"}]}`
			Expect(do(http.MethodPut, fmt.Sprintf("/api/flows/%d/nodes", flow.ID), body).Code).
				To(Equal(http.StatusBadRequest))
		})
	})

	It("lists enquiries filtered by status", func() {
		now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		for i, status := range []string{models.EnquiryOpen, models.EnquiryHandover, models.EnquiryOpen} {
			Expect(st.CreateEnquiry(ctx, &models.Enquiry{
				Phone:             fmt.Sprintf("97150000000%d", i),
				RecipientID:       "pn-1",
				ConversationState: "ask_name",
				Status:            status,
				CreatedAt:         now,
				UpdatedAt:         now.Add(time.Duration(i) * time.Minute),
			})).To(Succeed())
		}

		w := do(http.MethodGet, "/api/enquiries?status=open", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var got []models.Enquiry
		Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Phone).To(Equal("971500000002"))
	})

	It("returns an empty message list rather than null", func() {
		w := do(http.MethodGet, "/api/messages?phone=971500000001", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(strings.TrimSpace(w.Body.String())).To(Equal("[]"))
	})

	Describe("number settings", func() {
		BeforeEach(func() {
			_, err := testutil.SeedNumber(db, "pn-1", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("activates a valid flow and toggles follow-ups", func() {
			body := fmt.Sprintf(`{"activeBotFlowId":%d,"isReviewEnabled":false}`, flow.ID)
			w := do(http.MethodPatch, "/api/numbers/pn-1", body)
			Expect(w.Code).To(Equal(http.StatusOK), w.Body.String())

			pn, err := st.PhoneNumber(ctx, "pn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(pn.ActiveBotFlowID).NotTo(BeNil())
			Expect(*pn.ActiveBotFlowID).To(Equal(flow.ID))
			Expect(pn.IsReviewEnabled).To(BeFalse())
			Expect(pn.IsFollowUpEnabled).To(BeTrue())
		})

		It("refuses to activate a broken flow", func() {
			Expect(db.Model(&models.BotNode{}).Where("node_key = ?", "vip").
				Update("next_node_key", "gone").Error).To(Succeed())

			body := fmt.Sprintf(`{"activeBotFlowId":%d}`, flow.ID)
			Expect(do(http.MethodPatch, "/api/numbers/pn-1", body).Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("answers 404 for unknown numbers", func() {
			Expect(do(http.MethodPatch, "/api/numbers/pn-9", `{"isReviewEnabled":true}`).Code).To(Equal(http.StatusNotFound))
		})
	})
})
