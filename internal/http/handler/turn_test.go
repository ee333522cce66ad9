package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buddypark.app/relay/internal/http/dto"
	"buddypark.app/relay/internal/http/handler"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/service"
)

type mockTurnService struct {
	handleFn func(ctx context.Context, req service.TurnRequest) (*service.TurnResult, error)
	received *service.TurnRequest
}

func (m *mockTurnService) Handle(ctx context.Context, req service.TurnRequest) (*service.TurnResult, error) {
	m.received = &req
	if m.handleFn != nil {
		return m.handleFn(ctx, req)
	}
	return &service.TurnResult{ReplyID: "r1", Status: model.TurnStatusCompleted, Reply: "hello", Fragments: 1}, nil
}

var _ = Describe("TurnHandler", func() {
	var (
		router *gin.Engine
		svc    *mockTurnService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockTurnService{}
		h := handler.NewTurnHandler(svc)
		router.POST("/turns", h.Handle)
	})

	send := func(requestType string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(http.MethodPost, "/turns", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(dto.HeaderConversationID, "c1")
		req.Header.Set(dto.HeaderCharacterID, "luna")
		req.Header.Set(dto.HeaderUserID, "u1")
		req.Header.Set(dto.HeaderRoutingToken, "device")
		if requestType != "" {
			req.Header.Set(dto.HeaderRequestType, requestType)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("maps headers and body onto the turn", func() {
		w := send("new-message", map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": "hi", "timestamp": "2026-01-01T10:00:00Z"},
				{"role": "assistant", "content": "hello"},
				{"role": "user", "content": "how are you"},
			},
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.received).NotTo(BeNil())
		Expect(svc.received.ConversationID).To(Equal("c1"))
		Expect(svc.received.CharacterID).To(Equal("luna"))
		Expect(svc.received.UserID).To(Equal("u1"))
		Expect(svc.received.RoutingToken).To(Equal("device"))
		Expect(svc.received.RequestType).To(Equal(model.RequestTypeNewMessage))
		Expect(svc.received.Messages).To(Equal([]model.RequestMessage{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
			{Role: model.RoleUser, Content: "how are you"},
		}))

		var resp dto.TurnResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp).To(Equal(dto.TurnResponse{ReplyID: "r1", Status: "completed", Reply: "hello", Fragments: 1}))
	})

	It("defaults to a new message", func() {
		w := send("", map[string]any{"messages": []map[string]any{{"role": "user", "content": "hi"}}})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.received.RequestType).To(Equal(model.RequestTypeNewMessage))
	})

	It("rejects unknown roles before reaching the service", func() {
		w := send("new-message", map[string]any{"messages": []map[string]any{{"role": "system", "content": "hi"}}})

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(svc.received).To(BeNil())
	})

	It("accepts app-restart without a body", func() {
		svc.handleFn = func(context.Context, service.TurnRequest) (*service.TurnResult, error) {
			return &service.TurnResult{Status: model.TurnStatusRestored, Reply: "x|y"}, nil
		}

		w := send("app-restart", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.received.RequestType).To(Equal(model.RequestTypeAppRestart))
		var resp dto.TurnResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Reply).To(Equal("x|y"))
		Expect(resp.Status).To(Equal("restored"))
	})

	DescribeTable("maps service errors to status codes",
		func(err error, result *service.TurnResult, expected int) {
			svc.handleFn = func(context.Context, service.TurnRequest) (*service.TurnResult, error) {
				return result, err
			}

			w := send("new-message", map[string]any{"messages": []map[string]any{{"role": "user", "content": "hi"}}})
			Expect(w.Code).To(Equal(expected))
		},
		Entry("invalid turn", fmt.Errorf("%w: no user message", service.ErrInvalidTurn), nil, http.StatusBadRequest),
		Entry("no snapshot", service.ErrNoSnapshot, nil, http.StatusNotFound),
		Entry("upstream", fmt.Errorf("%w: boom", service.ErrUpstream), &service.TurnResult{ReplyID: "r1", Status: model.TurnStatusUpstreamError}, http.StatusBadGateway),
		Entry("anything else", fmt.Errorf("saving turn start: redis down"), nil, http.StatusInternalServerError),
	)

	It("returns stale turns as a normal answer", func() {
		svc.handleFn = func(context.Context, service.TurnRequest) (*service.TurnResult, error) {
			return &service.TurnResult{ReplyID: "r1", Status: model.TurnStatusStale, Fragments: 2}, nil
		}

		w := send("new-message", map[string]any{"messages": []map[string]any{{"role": "user", "content": "hi"}}})

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp dto.TurnResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal("stale"))
		Expect(resp.Reply).To(BeEmpty())
	})
})

var _ = Describe("SchemaHandler", func() {
	It("describes the notification payload keys", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.GET("/schema", handler.NewSchemaHandler().Notification)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schema", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var schema struct {
			Title      string                    `json:"title"`
			Properties map[string]map[string]any `json:"properties"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &schema)).To(Succeed())
		Expect(schema.Title).To(Equal("Notification"))
		Expect(schema.Properties).To(HaveKey("full-text"))
		Expect(schema.Properties).To(HaveKey("reply-id"))
		Expect(schema.Properties).To(HaveKey("users-reply"))
		Expect(schema.Properties["full-text"]["type"]).To(Equal("string"))
	})
})
