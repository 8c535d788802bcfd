package utils

import (
	"encoding/json"
	"net/http"
)

// RespondJSON 写入 JSON 响应体。头部已发出后的编码错误无法再告知客户端，直接忽略。
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// RespondError 以 {"error": message} 形式返回错误。
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}
