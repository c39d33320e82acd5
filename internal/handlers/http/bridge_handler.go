package http

import (
	"context"
	"net/http"

	"midilink/internal/core/domain"
	"midilink/internal/core/services"
	apperrors "midilink/pkg/errors"
	"midilink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// Manager is the connection manager surface exposed over HTTP.
type Manager interface {
	Initialize(ctx context.Context, role domain.Role) error
	CreateOffer(ctx context.Context) (string, error)
	HandleOffer(ctx context.Context, encoded string) (string, error)
	HandleAnswer(ctx context.Context, encoded string) error
	Close() error
	State() domain.ConnectionState
	LocalDescription() (string, bool)

	SendMIDI(payload []byte, timestamp float64, target domain.Target) bool
	VirtualOutput(target domain.Target) (*services.VirtualOutput, bool)
	GetVirtualInputs() []domain.VirtualDevice
	GetVirtualOutputs() []domain.VirtualDevice
	GetStats() domain.Stats

	BridgeConfig() domain.BridgeConfig
	SetBridgeConfig(config domain.BridgeConfig) error
	HardwarePorts() ([]domain.HardwarePort, error)
	NetworkPeers() []string
}

type BridgeHandler struct {
	manager Manager
}

func NewBridgeHandler(manager Manager) *BridgeHandler {
	return &BridgeHandler{manager: manager}
}

func (h *BridgeHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", h.GetSession)
		api.POST("/session", h.Initialize)
		api.DELETE("/session", h.CloseSession)
		api.POST("/session/offer", h.CreateOffer)
		api.POST("/session/handle-offer", h.HandleOffer)
		api.POST("/session/answer", h.HandleAnswer)

		api.POST("/midi", h.SendMIDI)

		api.GET("/devices/inputs", h.ListInputs)
		api.GET("/devices/outputs", h.ListOutputs)
		api.POST("/devices/outputs/:target/send", h.SendToOutput)

		api.GET("/stats", h.GetStats)
		api.GET("/bridge", h.GetBridgeConfig)
		api.PUT("/bridge", h.UpdateBridgeConfig)
		api.GET("/ports", h.ListPorts)
	}
}

type descriptionRequest struct {
	Description string `json:"description" binding:"required"`
}

type midiRequest struct {
	Data      []int         `json:"data" binding:"required"`
	Timestamp *float64      `json:"timestamp"`
	Target    domain.Target `json:"target"`
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}

func (h *BridgeHandler) GetSession(c *gin.Context) {
	resp := gin.H{"state": h.manager.State()}
	if desc, ok := h.manager.LocalDescription(); ok {
		resp["local_description"] = desc
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BridgeHandler) Initialize(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	if err := h.manager.Initialize(c.Request.Context(), domain.Role(req.Role)); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"role":  req.Role,
		"state": h.manager.State(),
	})
}

func (h *BridgeHandler) CloseSession(c *gin.Context) {
	if err := h.manager.Close(); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BridgeHandler) CreateOffer(c *gin.Context) {
	offer, err := h.manager.CreateOffer(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"description": offer,
		"state":       h.manager.State(),
	})
}

func (h *BridgeHandler) HandleOffer(c *gin.Context) {
	var req descriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	answer, err := h.manager.HandleOffer(c.Request.Context(), req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"description": answer,
		"state":       h.manager.State(),
	})
}

func (h *BridgeHandler) HandleAnswer(c *gin.Context) {
	var req descriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.manager.HandleAnswer(c.Request.Context(), req.Description); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.manager.State()})
}

func (h *BridgeHandler) SendMIDI(c *gin.Context) {
	var req midiRequest
	if !bindJSON(c, &req) {
		return
	}
	payload, err := validation.PayloadFromInts(req.Data)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := validation.ValidateTarget(string(req.Target)); err != nil {
		_ = c.Error(err)
		return
	}

	sent := h.manager.SendMIDI(payload, domain.TimestampOrNow(req.Timestamp), req.Target)
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (h *BridgeHandler) SendToOutput(c *gin.Context) {
	target := domain.Target(c.Param("target"))
	out, ok := h.manager.VirtualOutput(target)
	if !ok {
		_ = c.Error(apperrors.NewNotFoundError("virtual output " + string(target)))
		return
	}

	var req midiRequest
	if !bindJSON(c, &req) {
		return
	}
	payload, err := validation.PayloadFromInts(req.Data)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": out.Send(payload, domain.TimestampOrNow(req.Timestamp))})
}

func (h *BridgeHandler) ListInputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": nonNil(h.manager.GetVirtualInputs())})
}

func (h *BridgeHandler) ListOutputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": nonNil(h.manager.GetVirtualOutputs())})
}

func (h *BridgeHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetStats())
}

func (h *BridgeHandler) GetBridgeConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.BridgeConfig())
}

func (h *BridgeHandler) UpdateBridgeConfig(c *gin.Context) {
	var cfg domain.BridgeConfig
	if !bindJSON(c, &cfg) {
		return
	}
	if err := h.manager.SetBridgeConfig(cfg); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.manager.BridgeConfig())
}

func (h *BridgeHandler) ListPorts(c *gin.Context) {
	resp := gin.H{"network_peers": nonNilStrings(h.manager.NetworkPeers())}
	ports, err := h.manager.HardwarePorts()
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeTransportUnavailable):
		resp["hardware_available"] = false
		resp["ports"] = []domain.HardwarePort{}
	case err != nil:
		_ = c.Error(err)
		return
	default:
		resp["hardware_available"] = true
		if ports == nil {
			ports = []domain.HardwarePort{}
		}
		resp["ports"] = ports
	}
	c.JSON(http.StatusOK, resp)
}

func nonNil(devices []domain.VirtualDevice) []domain.VirtualDevice {
	if devices == nil {
		return []domain.VirtualDevice{}
	}
	return devices
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
