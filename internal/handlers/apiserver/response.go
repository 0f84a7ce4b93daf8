package apiserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"im-chat/internal/apperr"
	"im-chat/internal/middleware"

	"github.com/gorilla/mux"
)

// Response 是所有 API 响应的统一结构。
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Token   string      `json:"token,omitempty"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("无法编码 JSON 响应: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	writeJSONResponse(w, statusCode, Response{Status: "success", Message: message, Data: data})
}

// writeJSONError 把 apperr 错误翻译成 HTTP 状态码和统一的错误体。
func writeJSONError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal || code == apperr.CodeTransientFailure {
		log.Printf("错误: 请求处理失败: %v", err)
	}
	writeJSONResponse(w, apperr.HTTPStatus(code), Response{Status: "error", Message: apperr.PublicMessage(err)})
}

// decodeJSONBody 解析请求体；空请求体按 "{}" 处理。
func decodeJSONBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.CodeInvalidRequest, "请求体无效", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uint, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		return 0, apperr.InvalidRequest("请求路径中缺少 " + name)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.InvalidRequest("无效的 " + name)
	}
	return uint(id), nil
}

var errNoUserInContext = apperr.Unauthenticated("用户未认证")

func currentUserID(r *http.Request) (uint, error) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok || userID == 0 {
		return 0, errNoUserInContext
	}
	return userID, nil
}
