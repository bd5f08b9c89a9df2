package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/service"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"

	actorKey = "actor"
)

type Handler struct {
	sessions service.SessionService
	bridges  service.BridgeManager
	webhooks *WebhookIntake
}

func NewHandler(svc *service.Service, webhooks *WebhookIntake) *Handler {
	return &Handler{
		sessions: svc.Sessions,
		bridges:  svc.Bridges,
		webhooks: webhooks,
	}
}

// Register mounts the session, bridge and webhook routes.
func (h *Handler) Register(r gin.IRouter) {
	sessions := r.Group("/sessions", requireActor)
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/start", h.startSession)
	sessions.GET("/:id/credentials", h.getCredentials)
	sessions.POST("/:id/stop", h.stopSession)
	sessions.GET("/:id/status", h.sessionStatus)
	sessions.POST("/:id/recordings/sync", h.syncRecordings)
	sessions.POST("/:id/bridge/start", h.startBridge)
	sessions.GET("/:id/bridge/status", h.bridgeStatus)
	sessions.POST("/:id/bridge/stop", h.stopBridge)

	if h.webhooks != nil {
		h.webhooks.Register(r)
	}
}

// requireActor reads the identity the gateway resolved for the caller.
func requireActor(c *gin.Context) {
	id := c.GetHeader(HeaderActorID)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing actor"})
		return
	}
	role := constant.Role(c.GetHeader(HeaderActorRole))
	switch role {
	case constant.RoleAdmin, constant.RoleOperator, constant.RoleViewer:
	case "":
		role = constant.RoleViewer
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "unknown actor role"})
		return
	}
	c.Set(actorKey, dto.Actor{ID: id, Role: role})
	c.Next()
}

func actorFrom(c *gin.Context) dto.Actor {
	actor, _ := c.MustGet(actorKey).(dto.Actor)
	return actor
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) createSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) startSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Start(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialsResponse(session))
}

func (h *Handler) getCredentials(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.GetCredentials(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialsResponse(session))
}

func (h *Handler) stopSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Stop(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(session))
}

func (h *Handler) sessionStatus(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Status(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(session))
}

func (h *Handler) syncRecordings(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.sessions.SyncRecordings(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RecordingsResponse{
		SessionID:  session.ID,
		Status:     session.Status,
		Recordings: recordings(session),
	})
}

func (h *Handler) startBridge(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	creds, err := h.bridges.StartBridge(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, creds)
}

func (h *Handler) bridgeStatus(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	status, err := h.bridges.GetBridgeStatus(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) stopBridge(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	bridge, err := h.bridges.StopBridge(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BridgeStatusResponse{
		StreamSessionID: bridge.StreamSessionID,
		Status:          bridge.Status,
		StartedAt:       bridge.StartedAt,
		CompletedAt:     bridge.CompletedAt,
		LastError:       bridge.LastError,
	})
}

func credentialsResponse(session *entities.StreamSession) dto.CredentialsResponse {
	return dto.CredentialsResponse{
		SessionID:   session.ID,
		Status:      session.Status,
		Credentials: session.Credentials,
	}
}

func statusResponse(session *entities.StreamSession) dto.StatusResponse {
	return dto.StatusResponse{
		SessionID:         session.ID,
		Status:            session.Status,
		ProviderConnected: session.ProviderConnected,
		ActualStartTime:   session.ActualStartTime,
		EndTime:           session.EndTime,
		RecordingsChecked: session.RecordingsCheckedAt != nil,
		Recordings:        recordings(session),
	}
}

func recordings(session *entities.StreamSession) []entities.RecordingSession {
	if session.RecordingSessions == nil {
		return []entities.RecordingSession{}
	}
	return session.RecordingSessions
}
