package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
	"github.com/sigweihq/companionpay/pkg/verifier"
	"github.com/sigweihq/companionpay/pkg/walletauth"
)

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) walletSignIn(c *gin.Context) {
	var req types.WalletSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "walletAddress is required", Code: "invalid_request"})
		return
	}
	resp, err := s.deps.Auth.SignIn(c.Request.Context(), req.WalletAddress)
	if err != nil {
		s.authError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) walletRegister(c *gin.Context) {
	var req types.WalletRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "walletAddress and username are required and contactEmail must be a valid address", Code: "invalid_request"})
		return
	}
	resp, err := s.deps.Auth.Register(c.Request.Context(), req)
	if err != nil {
		s.authError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) usernameAvailable(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "username query parameter is required", Code: "invalid_request"})
		return
	}
	resp, err := s.deps.Auth.UsernameAvailable(c.Request.Context(), username)
	if err != nil {
		s.internalError(c, "username availability failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) authError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, walletauth.ErrInvalidAddress), errors.Is(err, walletauth.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error(), Code: "invalid_request"})
	case errors.Is(err, walletauth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, types.ErrorResponse{Error: err.Error(), Code: "username_taken"})
	case errors.Is(err, walletauth.ErrWalletRegistered):
		c.JSON(http.StatusConflict, types.ErrorResponse{Error: err.Error(), Code: "wallet_registered"})
	case errors.Is(err, walletauth.ErrCredentialMismatch):
		c.JSON(http.StatusConflict, types.ErrorResponse{Error: err.Error(), Code: "credential_mismatch"})
	default:
		s.internalError(c, "wallet auth failed", err)
	}
}

// paymentRequirements tells clients where and how much to pay for a companion
func (s *Server) paymentRequirements(c *gin.Context) {
	companion, ok := s.loadCompanion(c)
	if !ok {
		return
	}
	resource := fmt.Sprintf("%s/api/v1/companions/%s/access", strings.TrimRight(s.cfg.PublicURL, "/"), companion.ID)
	reqs, err := utils.DerivePaymentRequirementsSolana(
		s.cfg.Network,
		s.cfg.PlatformWallet,
		utils.SOLToLamports(companion.AccessPrice),
		resource,
		fmt.Sprintf("Chat access to %s", companion.Name),
		companion.ID,
	)
	if err != nil {
		s.internalError(c, "payment requirements failed", err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *Server) companionAccess(c *gin.Context) {
	companion, ok := s.loadCompanion(c)
	if !ok {
		return
	}
	has, err := s.deps.Store.HasAccess(c.Request.Context(), GetUserID(c), companion.ID)
	if err != nil {
		s.internalError(c, "access check failed", err)
		return
	}
	c.JSON(http.StatusOK, types.CompanionAccess{CompanionID: companion.ID, HasAccess: has})
}

func (s *Server) listAccess(c *gin.Context) {
	grants, err := s.deps.Store.ListAccessGrants(c.Request.Context(), GetUserID(c))
	if err != nil {
		s.internalError(c, "list access failed", err)
		return
	}
	out := make([]*types.AccessGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, &types.AccessGrant{
			ID:                   g.ID,
			CompanionID:          g.CompanionID,
			AccessPrice:          g.AccessPrice,
			TransactionSignature: g.TransactionSignature,
			PurchasedAt:          g.PurchasedAt,
		})
	}
	c.JSON(http.StatusOK, types.AccessListResponse{Grants: out, Total: len(out)})
}

// verifyPayment is the trust boundary: the client's claim is re-checked on chain
func (s *Server) verifyPayment(c *gin.Context) {
	var req types.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.VerifyPaymentResponse{
			Success: false,
			Error:   "companionId, transactionSignature and a positive amount are required",
			Code:    string(verifier.CodeInvalidRequest),
		})
		return
	}

	caller := verifier.Caller{UserID: GetUserID(c), WalletAddress: c.GetString(ctxWalletAddress)}
	resp, err := s.deps.Verifier.Verify(c.Request.Context(), caller, req)
	if err != nil {
		var verr *verifier.VerificationError
		if errors.As(err, &verr) {
			if verr.Code == verifier.CodeInternal {
				s.logger.Error("payment verification failed", "error", err)
			}
			c.JSON(verr.Code.HTTPStatus(), types.VerifyPaymentResponse{
				Success: false,
				Error:   verr.Message,
				Code:    string(verr.Code),
			})
			return
		}
		s.logger.Error("payment verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, types.VerifyPaymentResponse{
			Success: false,
			Error:   "verification failed, try again",
			Code:    string(verifier.CodeInternal),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// callSignaling authenticates with a query token since browsers cannot set
// headers on websocket upgrades
func (s *Server) callSignaling(c *gin.Context) {
	token := c.Query("token")
	room := c.Query("room")
	if token == "" || room == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "token and room required", Code: "invalid_request"})
		return
	}
	claims, err := s.deps.Sessions.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: "invalid token", Code: "unauthenticated"})
		return
	}
	s.deps.Signaling.ServeWS(c.Writer, c.Request, claims.UserID, room)
}

func (s *Server) loadCompanion(c *gin.Context) (*store.Companion, bool) {
	companion, err := s.deps.Store.GetCompanion(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "companion not found", Code: "companion_not_found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, "load companion failed", err)
		return nil, false
	}
	return companion, true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "internal error", Code: "internal"})
}
