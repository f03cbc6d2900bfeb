package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/middleware"
)

const maxBodyBytes = 16 << 10

var errBadRequest = errors.New("bad request")

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokenResponse(p authsession.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type loginResponse struct {
	*tokenResponse
	MFARequired bool   `json:"mfaRequired,omitempty"`
	PendingID   string `json:"pendingId,omitempty"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username,omitempty"`
	Roles      []string  `json:"roles"`
	MFAEnabled bool      `json:"mfaEnabled"`
	CreatedAt  time.Time `json:"createdAt"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

// decode reads a bounded JSON body into dst and checks that every named
// field is non-empty.
func decode(w http.ResponseWriter, r *http.Request, dst any, required ...*string) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	for _, field := range required {
		if strings.TrimSpace(*field) == "" {
			return errBadRequest
		}
	}
	return nil
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req, &req.Email, &req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusOK, loginResponse{MFARequired: true, PendingID: res.PendingID})
		return
	}
	tokens := newTokenResponse(res.Tokens)
	writeJSON(w, http.StatusOK, loginResponse{tokenResponse: &tokens})
}

func (h *handler) mfaVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PendingID string `json:"pendingId"`
		Code      string `json:"code"`
	}
	if err := decode(w, r, &req, &req.PendingID, &req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := h.engine.ConfirmLoginMFA(r.Context(), req.PendingID, req.Code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(w, r, &req, &req.RefreshToken); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// logout revokes the presented refresh token and, when a bearer token is
// sent, denylists it too. Unknown tokens still answer 204.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	if req.RefreshToken == "" && access == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.engine.Logout(r.Context(), req.RefreshToken, access); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), claims.Subject); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	info, err := h.engine.Account(r.Context(), claims.Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:         info.ID,
		Email:      info.Email,
		Username:   info.Username,
		Roles:      info.Roles,
		MFAEnabled: info.MFAEnabled,
		CreatedAt:  info.CreatedAt,
	})
}

// -------- PASSWORD RESET --------

// resetRequest answers 200 whether or not the email is known.
func (h *handler) resetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req, &req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *handler) resetVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decode(w, r, &req, &req.Email, &req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.engine.VerifyPasswordResetCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (h *handler) resetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(w, r, &req, &req.Email, &req.Code, &req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.engine.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// -------- MFA MANAGEMENT --------

func (h *handler) mfaSetup(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	setup, err := h.engine.BeginMFASetup(r.Context(), claims.Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": setup.Secret, "uri": setup.URI})
}

func (h *handler) mfaSetupConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(w, r, &req, &req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	codes, err := h.engine.ConfirmMFASetup(r.Context(), claims.Subject, req.Code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (h *handler) mfaDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(w, r, &req, &req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.engine.DisableMFA(r.Context(), claims.Subject, req.Password); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) mfaRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(w, r, &req, &req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	codes, err := h.engine.RegenerateRecoveryCodes(r.Context(), claims.Subject, req.Code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}
