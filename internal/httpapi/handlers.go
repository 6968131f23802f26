package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callpay-platform/internal/auth"
	"callpay-platform/internal/calls"
	"callpay-platform/internal/ledger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth   *auth.Manager
	Calls  *calls.Service
	Ledger *ledger.Service
}

// respondError maps a lifecycle/ledger error to an HTTP status and the
// stable machine code clients key on.
func respondError(c *gin.Context, err error) {
	code := calls.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "CALL_NOT_FOUND", "USER_NOT_FOUND":
		status = http.StatusNotFound
	case "NOT_CALL_PARTY":
		status = http.StatusForbidden
	case "INVALID_CALL_STATE", "RESPONDER_IN_CALL":
		status = http.StatusConflict
	case "INSUFFICIENT_COINS":
		status = http.StatusPaymentRequired
	case "RESPONDER_OFFLINE", "RESPONDER_BLOCKED", "RESPONDER_UNSUPPORTED_KIND", "FEATURE_DISABLED":
		status = http.StatusUnprocessableEntity
	case "INTERNAL":
		switch {
		case errors.Is(err, ledger.ErrInvalidArgument):
			status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
		case errors.Is(err, ledger.ErrNotFound):
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

func identity(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

func (h Handlers) InitiateCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req calls.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ResponderID == "" || req.Kind == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "responder_id, kind required"})
		return
	}
	call, err := h.Calls.Initiate(c.Request.Context(), uid, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.Accept(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) RejectCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.Reject(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ConfirmCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.ConfirmConnection(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ReportConnectionFailure(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.ReportConnectionFailure(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) EndCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.End(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CallStatus(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.GetStatus(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CallHistory(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.Calls.History(c.Request.Context(), uid, intQuery(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

// CleanupStaleCalls runs one reclaimer sweep on demand. Admin only;
// the background ticker runs the same sweep continuously.
func (h Handlers) CleanupStaleCalls(c *gin.Context) {
	n, err := h.Calls.CleanupStale(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reclaimed": n})
}

// --- Coins / earnings ---

type creditRequest struct {
	Coins          int64  `json:"coins"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h Handlers) GetBalance(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) CreditCoins(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	bal, err := h.Ledger.Credit(c.Request.Context(), uid, ledger.CreditRequest{
		Coins:          req.Coins,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) GetEarnings(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	earn, err := h.Ledger.Earnings(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, earn)
}

func (h Handlers) ListTransactions(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	txs, err := h.Ledger.Transactions(c.Request.Context(), uid, intQuery(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func intQuery(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
