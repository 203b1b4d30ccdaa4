package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/propview/viewings/backend/internal/directory"
	"github.com/propview/viewings/backend/internal/invites"
	"github.com/propview/viewings/backend/internal/mailer"
	"github.com/propview/viewings/backend/internal/records"
	"github.com/propview/viewings/backend/internal/users"
	"go.uber.org/zap"
)

const (
	requestIDHeader   = "X-Request-ID"
	heartbeatInterval = 30 * time.Second
)

var (
	errMissingStore      = errors.New("record store dependency required")
	errMissingInvites    = errors.New("invite service dependency required")
	errMissingDispatcher = errors.New("notification dispatcher dependency required")
	errMissingAccounts   = errors.New("account service dependency required")
	errMissingTokens     = errors.New("token issuer dependency required")
)

// SessionTokenIssuer signs a session token for an authenticated account.
type SessionTokenIssuer interface {
	IssueSessionToken(accountID string) (string, int64, error)
}

// Dependencies wires the HTTP layer to the core services.
type Dependencies struct {
	Store      *records.Store
	Invites    *invites.Service
	Dispatcher *mailer.Dispatcher
	Accounts   *users.Service
	Tokens     SessionTokenIssuer
	Explorer   *directory.Explorer
	Events     *EventStream
	Logger     *zap.Logger
}

// NewHTTPHandler assembles the gin router for the viewings API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Invites == nil {
		return nil, errMissingInvites
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewEventStream()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:      deps.Store,
		invites:    deps.Invites,
		dispatcher: deps.Dispatcher,
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		explorer:   deps.Explorer,
		events:     events,
		logger:     logger,
	}

	router.POST("/login", handler.handleLogin)
	router.POST("/tables", handler.handleTables)

	viewings := router.Group("/viewings")
	viewings.POST("/add", handler.handleViewingAdd)
	viewings.POST("/edit", handler.handleViewingEdit)
	viewings.POST("/delete", handler.handleViewingDelete)
	viewings.GET("/:viewingID/events", handler.handleViewingEvents)

	leads := router.Group("/leads")
	leads.POST("/add", handler.handleLeadAdd)
	leads.POST("/edit", handler.handleLeadEdit)
	leads.POST("/delete", handler.handleLeadDelete)

	inviteRoutes := router.Group("/invites")
	inviteRoutes.POST("/mark", handler.handleInvitesMark)
	inviteRoutes.POST("/email", handler.handleInvitesEmail)
	inviteRoutes.POST("/confirm/:leadID/:viewingID", handler.handleInviteConfirm)
	inviteRoutes.POST("/fetch", handler.handleInvitesFetch)
	inviteRoutes.POST("/fetch_one", handler.handleInviteFetchOne)
	inviteRoutes.POST("/toggle", handler.handleInviteToggle)

	if deps.Explorer != nil {
		router.POST("/directory", handler.handleDirectory)
	}

	return router, nil
}

type httpHandler struct {
	store      *records.Store
	invites    *invites.Service
	dispatcher *mailer.Dispatcher
	accounts   *users.Service
	tokens     SessionTokenIssuer
	explorer   *directory.Explorer
	events     *EventStream
	logger     *zap.Logger
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set(requestIDHeader, uuid.NewString())
		c.Next()
	}
}

type loginPayload struct {
	Username string `json:"un"`
	Password string `json:"pw"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	accountID, err := h.accounts.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrUnknownEmail) {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Email not found"})
		return
	}
	if errors.Is(err, users.ErrWrongPassword) {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Incorrect Password"})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}

	token, _, err := h.tokens.IssueSessionToken(accountID)
	if err != nil {
		h.logger.Error("session token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": accountID, "success": true, "token": token})
}

func (h *httpHandler) handleTables(c *gin.Context) {
	viewings, err := h.store.ListViewings(c.Request.Context())
	if err != nil {
		h.databaseError(c, err)
		return
	}
	leads, err := h.store.ListLeads(c.Request.Context())
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewings": viewings, "leads": leads})
}

type viewingPayload struct {
	Viewing records.Viewing `json:"viewing"`
}

func (h *httpHandler) handleViewingAdd(c *gin.Context) {
	var request viewingPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	newID, err := h.store.CreateViewing(c.Request.Context(), request.Viewing)
	if errors.Is(err, records.ErrInvalidRecord) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": err.Error()})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_id": newID})
}

func (h *httpHandler) handleViewingEdit(c *gin.Context) {
	var request viewingPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.store.UpdateViewing(c.Request.Context(), request.Viewing)
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Viewing not updated"})
		return
	}
	if errors.Is(err, records.ErrInvalidRecord) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": err.Error()})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}
	// The frontend reads the updated row from the "lead" key for both tables.
	c.JSON(http.StatusOK, gin.H{"lead": updated})
}

type deletePayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleViewingDelete(c *gin.Context) {
	var request deletePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.store.DeleteViewing(c.Request.Context(), request.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": true})
}

type leadPayload struct {
	Lead records.Lead `json:"lead"`
}

func (h *httpHandler) handleLeadAdd(c *gin.Context) {
	var request leadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	newID, err := h.store.CreateLead(c.Request.Context(), request.Lead)
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_id": newID})
}

func (h *httpHandler) handleLeadEdit(c *gin.Context) {
	var request leadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.store.UpdateLead(c.Request.Context(), request.Lead)
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}
	if errors.Is(err, records.ErrInvalidRecord) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": err.Error()})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lead": updated})
}

func (h *httpHandler) handleLeadDelete(c *gin.Context) {
	var request deletePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.store.DeleteLead(c.Request.Context(), request.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": true})
}

type inviteBatchPayload struct {
	ViewingID string   `json:"viewing_id"`
	LeadIDs   []string `json:"leadIDs"`
}

func (h *httpHandler) handleInvitesMark(c *gin.Context) {
	var request inviteBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ViewingID == "" || len(request.LeadIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	newlyMarked, err := h.invites.Mark(c.Request.Context(), request.ViewingID, request.LeadIDs)
	if err != nil {
		h.databaseError(c, err)
		return
	}
	for _, leadID := range newlyMarked {
		h.events.Publish(InviteEvent{
			ViewingID: request.ViewingID,
			LeadID:    leadID,
			Status:    invites.StatusSendEmail,
			Timestamp: time.Now().UTC(),
		})
	}
	h.respondWithInvites(c, request.ViewingID, nil)
}

func (h *httpHandler) handleInvitesEmail(c *gin.Context) {
	var request inviteBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ViewingID == "" || len(request.LeadIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	leadsToEmail, err := h.invites.Advance(c.Request.Context(), request.ViewingID, request.LeadIDs)
	if err != nil {
		h.databaseError(c, err)
		return
	}
	if len(leadsToEmail) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not added"})
		return
	}

	emailsSent := h.dispatcher.Dispatch(c.Request.Context(), request.ViewingID, leadsToEmail)
	for _, lead := range leadsToEmail {
		h.events.Publish(InviteEvent{
			ViewingID: request.ViewingID,
			LeadID:    lead.ID,
			Status:    invites.StatusInvited,
			Timestamp: time.Now().UTC(),
		})
	}
	h.respondWithInvites(c, request.ViewingID, gin.H{"emails_sent": emailsSent})
}

func (h *httpHandler) handleInviteConfirm(c *gin.Context) {
	leadID := c.Param("leadID")
	viewingID := c.Param("viewingID")

	outcome, err := h.invites.Confirm(c.Request.Context(), leadID, viewingID)
	if err != nil {
		h.databaseError(c, err)
		return
	}
	if outcome == invites.ConfirmSuccess {
		h.events.Publish(InviteEvent{
			ViewingID: viewingID,
			LeadID:    leadID,
			Status:    invites.StatusAccepted,
			Timestamp: time.Now().UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": outcome == invites.ConfirmSuccess,
		"status":  outcome,
	})
}

type inviteFetchPayload struct {
	ViewingID string `json:"viewing_id"`
}

func (h *httpHandler) handleInvitesFetch(c *gin.Context) {
	var request inviteFetchPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ViewingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondWithInvites(c, request.ViewingID, nil)
}

type inviteFetchOnePayload struct {
	ViewingID string `json:"viewingID"`
	LeadID    string `json:"leadID"`
}

func (h *httpHandler) handleInviteFetchOne(c *gin.Context) {
	var request inviteFetchOnePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ViewingID == "" || request.LeadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	detail, err := h.invites.Detail(c.Request.Context(), request.ViewingID, request.LeadID)
	if errors.Is(err, invites.ErrInviteNotFound) {
		c.JSON(http.StatusOK, gin.H{"invite": nil})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite": detail})
}

type inviteTogglePayload struct {
	ViewingID   string `json:"viewing_id"`
	LeadID      string `json:"lead_id"`
	AddOrRemove string `json:"add_or_remove"`
}

func (h *httpHandler) handleInviteToggle(c *gin.Context) {
	var request inviteTogglePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ViewingID == "" || request.LeadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var err error
	switch request.AddOrRemove {
	case "add":
		err = h.invites.Add(c.Request.Context(), request.ViewingID, request.LeadID)
	case "remove":
		err = h.invites.Remove(c.Request.Context(), request.ViewingID, request.LeadID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if errors.Is(err, invites.ErrAlreadyMarked) {
		c.JSON(http.StatusOK, gin.H{"result": false, "error": "already marked"})
		return
	}
	if err != nil {
		h.databaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": true})
}

func (h *httpHandler) handleDirectory(c *gin.Context) {
	var filter directory.Filter
	if err := c.ShouldBindJSON(&filter); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	directories := h.explorer.Directory(c.Request.Context(), filter)
	c.JSON(http.StatusOK, gin.H{"directories": directories})
}

func (h *httpHandler) handleViewingEvents(c *gin.Context) {
	viewingID := c.Param("viewingID")
	stream, cancel := h.events.Subscribe(c.Request.Context(), viewingID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(inviteEventType, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) respondWithInvites(c *gin.Context, viewingID string, extra gin.H) {
	summaries, err := h.invites.List(c.Request.Context(), viewingID)
	if err != nil {
		h.databaseError(c, err)
		return
	}
	response := gin.H{"invites": summaries}
	for key, value := range extra {
		response[key] = value
	}
	c.JSON(http.StatusOK, response)
}

// databaseError logs the detailed failure server-side and answers with a
// generic shape; raw SQL and credentials never reach the client.
func (h *httpHandler) databaseError(c *gin.Context, err error) {
	h.logger.Error("request failed",
		zap.Error(err),
		zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
}
