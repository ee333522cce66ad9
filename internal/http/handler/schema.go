package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"buddypark.app/relay/internal/model"
)

// SchemaHandler publishes the JSON schema of the push payload so client
// builds can validate what they decode.
type SchemaHandler struct {
	notification *jsonschema.Schema
}

func NewSchemaHandler() *SchemaHandler {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&model.Notification{})
	schema.Title = "Notification"
	return &SchemaHandler{notification: schema}
}

func (h *SchemaHandler) Notification(c *gin.Context) {
	c.JSON(http.StatusOK, h.notification)
}
