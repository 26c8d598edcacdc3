package whatsapp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"
)

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		client  *whatsapp.Client
		creds   whatsapp.Credentials
		lastReq *http.Request
		payload map[string]interface{}
		status  int
		reply   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		status = http.StatusOK
		reply = `{"messaging_product":"whatsapp","messages":[{"id":"wamid.sent.1"}]}`
		payload = nil
		lastReq = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastReq = r
			if r.Body != nil {
				body, _ := io.ReadAll(r.Body)
				if len(body) > 0 {
					_ = json.Unmarshal(body, &payload)
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply))
		}))
		DeferCleanup(server.Close)

		client = whatsapp.NewClient(&config.Config{
			GraphBaseURL:    server.URL + "/",
			GraphAPIVersion: "v20.0",
			ProviderTimeout: time.Second,
		})
		creds = whatsapp.Credentials{AccessToken: "token-1", PhoneNumberID: "pn-1"}
	})

	It("sends a quoted text and returns the message id", func() {
		id, err := client.SendText(ctx, creds, "971500000001", "Hello", "wamid.in.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("wamid.sent.1"))

		Expect(lastReq.Method).To(Equal(http.MethodPost))
		Expect(lastReq.URL.Path).To(Equal("/v20.0/pn-1/messages"))
		Expect(lastReq.Header.Get("Authorization")).To(Equal("Bearer token-1"))
		Expect(payload).To(HaveKeyWithValue("messaging_product", "whatsapp"))
		Expect(payload).To(HaveKeyWithValue("to", "971500000001"))
		Expect(payload).To(HaveKeyWithValue("type", "text"))
		Expect(payload["text"]).To(HaveKeyWithValue("body", "Hello"))
		Expect(payload["context"]).To(HaveKeyWithValue("message_id", "wamid.in.1"))
	})

	It("encodes reply buttons", func() {
		_, err := client.SendButtons(ctx, creds, "971500000001", "Pick one", []models.InteractiveButton{
			{ID: "stuck_continue", Title: "Continue"},
			{ID: "stuck_end", Title: "End Chat"},
		})
		Expect(err).NotTo(HaveOccurred())

		interactive := payload["interactive"].(map[string]interface{})
		Expect(interactive).To(HaveKeyWithValue("type", "button"))
		buttons := interactive["action"].(map[string]interface{})["buttons"].([]interface{})
		Expect(buttons).To(HaveLen(2))
		Expect(buttons[1]).To(HaveKeyWithValue("type", "reply"))
		Expect(buttons[1].(map[string]interface{})["reply"]).To(HaveKeyWithValue("id", "stuck_end"))
	})

	It("encodes list sections", func() {
		_, err := client.SendList(ctx, creds, "971500000001", "Rate us", "Rate Experience", []models.InteractiveSection{{
			Title: "Your Experience",
			Rows:  []models.InteractiveRow{{ID: "rate_5", Title: "Excellent"}},
		}})
		Expect(err).NotTo(HaveOccurred())

		action := payload["interactive"].(map[string]interface{})["action"].(map[string]interface{})
		Expect(action).To(HaveKeyWithValue("button", "Rate Experience"))
		Expect(action["sections"]).To(HaveLen(1))
	})

	It("surfaces Graph errors as APIError", func() {
		status = http.StatusBadRequest
		reply = `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`

		_, err := client.SendText(ctx, creds, "971500000001", "Hello", "")

		var apiErr *whatsapp.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Status).To(Equal(http.StatusBadRequest))
		Expect(apiErr.Code).To(Equal(100))
		Expect(apiErr.Message).To(Equal("Invalid parameter"))
	})

	It("keeps the raw body of undecodable errors", func() {
		status = http.StatusBadGateway
		reply = "upstream unavailable"

		_, err := client.SendText(ctx, creds, "971500000001", "Hello", "")

		var apiErr *whatsapp.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Message).To(Equal("upstream unavailable"))
	})

	It("refuses to send without credentials", func() {
		_, err := client.SendText(ctx, whatsapp.Credentials{PhoneNumberID: "pn-1"}, "971500000001", "Hello", "")
		Expect(err).To(MatchError(whatsapp.ErrNoCredentials))
		Expect(lastReq).To(BeNil())
	})

	It("resolves media urls and downloads them", func() {
		reply = `{"url":"` + server.URL + `/media/blob","mime_type":"image/png","id":"media-1"}`
		url, err := client.MediaURL(ctx, creds, "media-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal(server.URL + "/media/blob"))
		Expect(lastReq.URL.Path).To(Equal("/v20.0/media-1"))

		reply = "binary"
		data, contentType, err := client.Download(ctx, creds, url)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("binary"))
		Expect(contentType).To(Equal("application/json"))
		Expect(lastReq.Header.Get("Authorization")).To(Equal("Bearer token-1"))
	})
})
