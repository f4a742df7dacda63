package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/service/promotion/application"
	"promotoken/internal/service/promotion/domain"
)

const maxBodyBytes = 1 << 20

const (
	msgInvalidJSON        = "Invalid JSON format in request body"
	msgCodeRequired       = "Code and description are required"
	msgDuplicateCode      = "Promo code already exists"
	msgIDRequired         = "Promo code ID is required"
	msgInvalidID          = "Promo code ID must be a number"
	msgPromoCodeNotFound  = "Promo code not found"
	msgInvalidToken       = "Invalid token"
	msgTokenUsed          = "Token has already been used"
	msgTokenRequired      = "Token is required and must be a string"
	msgInternal           = "Internal server error"
	msgDurableUnavailable = "Durable store is not writable"
)

// PromoTokenHandler 封装了优惠码和令牌的 HTTP 处理器
type PromoTokenHandler struct {
	registry *application.CodeRegistry
	issuer   *application.TokenIssuer
	redeemer *application.TokenRedeemer
	feed     *FeedHub
	creds    Credentials
	tracer   trace.Tracer
}

// NewPromoTokenHandler 创建一个新的 HTTP 处理器实例。feed 为 nil 时不注册实时推送接口。
func NewPromoTokenHandler(registry *application.CodeRegistry, issuer *application.TokenIssuer, redeemer *application.TokenRedeemer, feed *FeedHub, creds Credentials) *PromoTokenHandler {
	return &PromoTokenHandler{
		registry: registry,
		issuer:   issuer,
		redeemer: redeemer,
		feed:     feed,
		creds:    creds,
		tracer:   otel.Tracer("promotion-http"),
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *PromoTokenHandler) RegisterRoutes(mux *http.ServeMux) {
	warnIfAuthDisabled(h.creds)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	admin := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, withRequestContext(h.tracer, basicAuth(h.creds, fn)))
	}
	public := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, withRequestContext(h.tracer, fn))
	}

	admin("GET /api/promo-codes", h.handleListPromoCodes)
	admin("POST /api/promo-codes", h.handleCreatePromoCode)
	admin("DELETE /api/promo-codes", h.handleDeletePromoCode)
	admin("POST /api/promo-codes/reset", h.handleResetPromoCodes)

	admin("GET /api/tokens", h.handleListTokens)
	admin("POST /api/tokens/generate", h.handleGenerateToken)
	admin("POST /api/tokens/verify", h.handleVerifyToken)
	admin("POST /api/tokens/mark-used", h.handleMarkUsed)
	if h.feed != nil {
		admin("GET /api/tokens/feed", h.feed.ServeWS)
	}

	// 校验接口由不受信任的外部客户端调用，不需要认证
	public("POST /api/tokens/validate", h.handleValidateToken)
	public("POST /api/validate-token", h.handleValidateToken)
	public("POST /api/public/validate-token", h.handleValidateToken)
}

func (h *PromoTokenHandler) handleListPromoCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.registry.List(r.Context())
	if err != nil {
		h.writeDomainError(r.Context(), w, "list promo codes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"promoCodes": application.ToPromoCodeDTOs(codes),
	})
}

type createPromoCodeRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *PromoTokenHandler) handleCreatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req createPromoCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pc, err := h.registry.Create(r.Context(), req.Code, req.Description)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, msgCodeRequired)
			return
		}
		h.writeDomainError(r.Context(), w, "create promo code", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"promoCode": application.ToPromoCodeDTO(pc),
	})
}

func (h *PromoTokenHandler) handleDeletePromoCode(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("id"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, msgIDRequired)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeDomainError(r.Context(), w, "delete promo code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *PromoTokenHandler) handleResetPromoCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.registry.Reset(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			logger.Ctx(r.Context()).Error().Err(err).Str("op", "reset promo codes").Msg("request failed")
			writeError(w, http.StatusInternalServerError, msgDurableUnavailable)
			return
		}
		h.writeDomainError(r.Context(), w, "reset promo codes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"promoCodes": application.ToPromoCodeDTOs(codes),
	})
}

func (h *PromoTokenHandler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.redeemer.ListTokens(r.Context())
	if err != nil {
		h.writeDomainError(r.Context(), w, "list tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tokens":  application.ToTokenDTOs(tokens),
	})
}

type generateTokenRequest struct {
	PromoCodeID flexibleID `json:"promoCodeId"`
}

func (h *PromoTokenHandler) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PromoCodeID.invalid {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	if !req.PromoCodeID.set {
		writeError(w, http.StatusBadRequest, msgIDRequired)
		return
	}
	issued, err := h.issuer.Issue(r.Context(), req.PromoCodeID.value)
	if err != nil {
		h.writeDomainError(r.Context(), w, "generate token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"token":     issued.Token.Token,
		"promoCode": issued.PromoCode.Code,
	})
}

type tokenRequest struct {
	Token  interface{}     `json:"token"`
	Result json.RawMessage `json:"result"`
}

// tokenValue 要求 token 字段是非空字符串
func (req tokenRequest) tokenValue() (string, bool) {
	s, ok := req.Token.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func (h *PromoTokenHandler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeTokenRequest(w, r, nil)
	if !ok {
		return
	}
	pc, err := h.redeemer.Verify(r.Context(), token)
	if err != nil {
		h.writeDomainError(r.Context(), w, "verify token", err)
		return
	}
	// 与 generate 一致，promoCode 只返回 code 字符串
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"promoCode": pc.Code,
	})
}

func (h *PromoTokenHandler) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeTokenRequest(w, r, nil)
	if !ok {
		return
	}
	res, err := h.redeemer.Validate(r.Context(), token)
	if err != nil {
		h.writeDomainError(r.Context(), w, "validate token", err)
		return
	}
	body := map[string]interface{}{
		"success": true,
		"isValid": res.IsValid,
	}
	if res.IsValid {
		body["promoCode"] = application.ToPromoCodeDTO(res.PromoCode)
	}
	writeJSON(w, http.StatusOK, body)
}

// handleMarkUsed 在这一层采用“发出即忘”的语义：令牌不存在、已被使用或结果不成功都返回 success:true，
// 只有意料之外的错误返回 500。
func (h *PromoTokenHandler) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	var result json.RawMessage
	token, ok := decodeTokenRequest(w, r, &result)
	if !ok {
		return
	}
	outcome, err := h.redeemer.Redeem(r.Context(), token, result)
	consumed := false
	switch {
	case err == nil:
		consumed = outcome.Consumed
	case domain.IsNotFound(err), errors.Is(err, domain.ErrTokenAlreadyUsed):
	default:
		h.writeDomainError(r.Context(), w, "mark token used", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"consumed": consumed,
	})
}

// writeDomainError 根据错误类型返回不同的 HTTP 状态码
func (h *PromoTokenHandler) writeDomainError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateCode):
		writeError(w, http.StatusConflict, msgDuplicateCode)
	case errors.Is(err, domain.ErrPromoCodeNotFound):
		writeError(w, http.StatusNotFound, msgPromoCodeNotFound)
	case errors.Is(err, domain.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, msgInvalidToken)
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		writeError(w, http.StatusBadRequest, msgTokenUsed)
	default:
		logger.Ctx(ctx).Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// flexibleID 同时接受 JSON 数字和数字字符串。无法解析的值记为 invalid，由处理器返回 400。
type flexibleID struct {
	value   int64
	set     bool
	invalid bool
}

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.invalid = true
		return nil
	}
	f.value, f.set = id, true
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return false
	}
	return true
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request, result *json.RawMessage) (string, bool) {
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return "", false
	}
	token, ok := req.tokenValue()
	if !ok {
		writeError(w, http.StatusBadRequest, msgTokenRequired)
		return "", false
	}
	if result != nil {
		*result = req.Result
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
