package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
	"github.com/amirphl/funnel-campaigns/models"
	testingutil "github.com/amirphl/funnel-campaigns/testing"
)

const testOwner uint = 21

type handlerEnv struct {
	app   *fiber.App
	store *testingutil.MemoryStore
	seed  *testingutil.Seeder
	quiz  *models.Quiz
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	store := testingutil.NewMemoryStore()
	seed := testingutil.NewMemorySeeder(store)

	quiz, err := seed.AddQuiz(testOwner, "city")
	require.NoError(t, err)
	_, err = seed.AddPhoneLeads(quiz.ID, 3)
	require.NoError(t, err)

	campaignFlow := businessflow.NewCampaignFlow(store.Campaigns(), store.Quizzes(), store.Leads(), store.DispatchLogs(),
		store.Credits(), store.Audit(), store.Transactor(), nil, businessflow.CampaignOptions{})
	creditFlow := businessflow.NewCreditFlow(store.Credits(), store.Purchases(), store.Campaigns(), store.Audit(), store.Transactor(), nil)

	sms := NewCampaignHandler(campaignFlow, models.ChannelSMS)
	credits := NewCreditHandler(creditFlow)
	webhooks := NewWebhookHandler(campaignFlow)

	app := fiber.New()
	app.Post("/webhooks/sms-delivery", webhooks.SMSDeliveryReport)

	authed := app.Group("/api", func(c fiber.Ctx) error {
		if c.Get("X-Test-Anonymous") == "" {
			c.Locals("customer_id", testOwner)
		}
		return c.Next()
	})
	authed.Post("/sms-campaigns", sms.CreateCampaign)
	authed.Get("/sms-campaigns", sms.ListCampaigns)
	authed.Get("/sms-campaigns/:id", sms.GetCampaign)
	authed.Put("/sms-campaigns/:id/pause", sms.PauseCampaign)
	authed.Put("/sms-campaigns/:id/resume", sms.ResumeCampaign)
	authed.Delete("/sms-campaigns/:id", sms.DeleteCampaign)
	authed.Get("/sms-campaigns/:id/logs/export", sms.ExportLogs)
	authed.Get("/sms-credits", credits.GetBalance)
	authed.Post("/sms-credits/purchase", credits.PurchaseCredits)

	return &handlerEnv{app: app, store: store, seed: seed, quiz: quiz}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Details any    `json:"details"`
	} `json:"error"`
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (e *handlerEnv) createBody() map[string]any {
	return map[string]any{
		"quiz_id":          e.quiz.ID,
		"type":             "remarketing",
		"name":             "Spring promo",
		"message_template": "Oi {{nome}}",
	}
}

func TestCreateCampaign_NeedsCredits(t *testing.T) {
	env := newHandlerEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/sms-campaigns", env.createBody())
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.False(t, body.Success)
	assert.Equal(t, "INSUFFICIENT_CREDITS", body.Error.Code)

	status, body = env.do(t, http.MethodPost, "/api/sms-credits/purchase", map[string]any{"amount": 10})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, body.Success)

	status, body = env.do(t, http.MethodPost, "/api/sms-campaigns", env.createBody())
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "SMS campaign created successfully", body.Message)

	var created struct {
		Campaign struct {
			ID          uint   `json:"id"`
			Channel     string `json:"channel"`
			SegmentSize int64  `json:"segment_size"`
		} `json:"campaign"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, "sms", created.Campaign.Channel)
	assert.Equal(t, int64(3), created.Campaign.SegmentSize)
}

func TestCreateCampaign_RequestErrors(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sms-campaigns", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	status, body := env.do(t, http.MethodPost, "/api/sms-campaigns", map[string]any{"type": "spam", "name": "x", "message_template": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Details, "Type must be one of: remarketing remarketing_custom quantum_remarketing live live_custom quantum_live mass")

	status, body = env.do(t, http.MethodPost, "/api/sms-campaigns", env.createBody(), "X-Test-Anonymous", "1")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_CUSTOMER_ID", body.Error.Code)
}

func TestCampaignLifecycleEndpoints(t *testing.T) {
	env := newHandlerEnv(t)
	campaign := testingutil.ActiveCampaign(testOwner, env.quiz.ID, models.ChannelSMS, "Oi")
	_, err := env.seed.AddCampaign(campaign)
	require.NoError(t, err)

	stranger := testingutil.ActiveCampaign(testOwner+1, env.quiz.ID, models.ChannelSMS, "Oi")
	_, err = env.seed.AddCampaign(stranger)
	require.NoError(t, err)

	path := "/api/sms-campaigns/" + strconv.FormatUint(uint64(campaign.ID), 10)

	status, _ := env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodPut, path+"/pause", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.CampaignStatusPaused, env.store.Campaign(campaign.ID).Status)
	assert.True(t, body.Success)

	status, body = env.do(t, http.MethodPut, path+"/pause", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Campaign is already paused", body.Message)

	status, body = env.do(t, http.MethodPut, path+"/resume", nil)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "INSUFFICIENT_CREDITS", body.Error.Code)

	status, _ = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.store.IsDeleted(campaign.ID))

	status, _ = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/api/sms-campaigns/"+strconv.FormatUint(uint64(stranger.ID), 10), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodGet, "/api/sms-campaigns/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_CAMPAIGN_ID", body.Error.Code)
}

func TestSMSRoutesHideEmailCampaigns(t *testing.T) {
	env := newHandlerEnv(t)
	email := testingutil.ActiveCampaign(testOwner, env.quiz.ID, models.ChannelEmail, "Oi")
	_, err := env.seed.AddCampaign(email)
	require.NoError(t, err)

	path := "/api/sms-campaigns/" + strconv.FormatUint(uint64(email.ID), 10)

	status, body := env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "CAMPAIGN_NOT_FOUND", body.Error.Code)

	status, _ = env.do(t, http.MethodPut, path+"/pause", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CampaignStatusActive, env.store.Campaign(email.ID).Status)

	status, _ = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.store.IsDeleted(email.ID))

	status, _ = env.do(t, http.MethodGet, path+"/logs/export", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListCampaigns_Pagination(t *testing.T) {
	env := newHandlerEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/sms-campaigns?page=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PAGINATION", body.Error.Code)

	status, body = env.do(t, http.MethodGet, "/api/sms-campaigns", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
}

func TestExportLogs_Headers(t *testing.T) {
	env := newHandlerEnv(t)
	campaign := testingutil.ActiveCampaign(testOwner, env.quiz.ID, models.ChannelSMS, "Oi")
	_, err := env.seed.AddCampaign(campaign)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sms-campaigns/"+strconv.FormatUint(uint64(campaign.ID), 10)+"/logs/export", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
}

func TestSMSDeliveryReport_UnknownMessage(t *testing.T) {
	env := newHandlerEnv(t)

	status, body := env.do(t, http.MethodPost, "/webhooks/sms-delivery", map[string]any{"message_id": "nope", "status": "delivered"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, body.Success)

	status, body = env.do(t, http.MethodPost, "/webhooks/sms-delivery", map[string]any{"message_id": "nope", "status": "lost"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestGetBalance(t *testing.T) {
	env := newHandlerEnv(t)
	_, err := env.seed.Grant(testOwner, 25)
	require.NoError(t, err)

	status, body := env.do(t, http.MethodGet, "/api/sms-credits", nil)
	require.Equal(t, http.StatusOK, status)

	var balance struct {
		Total     int64 `json:"total"`
		Remaining int64 `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &balance))
	assert.Equal(t, int64(25), balance.Total)
	assert.Equal(t, int64(25), balance.Remaining)

}
