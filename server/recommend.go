package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
)

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 16

// RecommendResponse 是 /api/recommend 的响应
type RecommendResponse struct {
	UserID          int64       `json:"user_id"`
	Recommendations []int64     `json:"recommendations"`
	Count           int         `json:"count"`
	Path            engine.Path `json:"path"`
}

// ErrorResponse 是错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var errMissingUserID = errors.New("missing user_id")

// handleRecommend 从 JSON body 或 query 参数读取 user_id 与 n，body 优先。
// 无法解析的 body 视为空 body。
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	userID, err := parseUserID(lookup(body, r, "user_id"))
	if err != nil {
		if errors.Is(err, errMissingUserID) {
			writeError(w, http.StatusBadRequest, "missing user_id", "provide user_id in the query string or the JSON body")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid user_id", "user_id must be an integer")
		return
	}

	n, err := s.parseCount(lookup(body, r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid n", err.Error())
		return
	}

	rec, err := s.rec.RecommendDetailed(r.Context(), userID, n)
	switch {
	case err == nil:
	case core.IsNotLoaded(err):
		writeError(w, http.StatusServiceUnavailable, "not ready", err.Error())
		return
	case core.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	default:
		logging.With(r.Context(), s.logger).Error().Err(err).Int64("user_id", userID).Msg("recommend failed")
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	items := rec.Items
	if items == nil {
		items = []int64{}
	}
	writeJSON(w, http.StatusOK, RecommendResponse{
		UserID:          userID,
		Recommendations: items,
		Count:           len(items),
		Path:            rec.Path,
	})
}

func readBody(r *http.Request) map[string]any {
	if r.Body == nil || r.Method != http.MethodPost {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil
	}
	return body
}

// lookup 先查 body，再查 query；都没有时返回 nil。
func lookup(body map[string]any, r *http.Request, key string) any {
	if v, ok := body[key]; ok && v != nil {
		return v
	}
	if q := r.URL.Query(); q.Has(key) {
		return q.Get(key)
	}
	return nil
}

// parseUserID 接受 JSON 整数、整数值的浮点（如 10.0）和十进制字符串。
func parseUserID(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, errMissingUserID
	case json.Number:
		return parseInt(string(val))
	case string:
		return parseInt(strings.TrimSpace(val))
	default:
		return 0, core.ErrInvalidUserID
	}
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, core.ErrInvalidUserID
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, core.ErrInvalidUserID
	}
	return int64(f), nil
}

func (s *Server) parseCount(v any) (int, error) {
	if v == nil {
		return s.cfg.DefaultCount, nil
	}
	i, err := parseUserID(v)
	if err != nil {
		return 0, fmt.Errorf("n must be an integer")
	}
	if i <= 0 || i > int64(s.cfg.MaxCount) {
		return 0, fmt.Errorf("n must be between 1 and %d", s.cfg.MaxCount)
	}
	return int(i), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
