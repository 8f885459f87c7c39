// Package api はリモート求人APIとの通信境界を提供する。
// エンベロープの正規化、Bearer認証、レート制御、エラー変換は全てこの
// パッケージに閉じ、業務パッケージには正規化済みの形だけを渡す。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/jobman/internal/metrics"
	"github.com/hitoshi/jobman/internal/model"
)

// maxResponseSize はAPIレスポンスボディの読み取り上限。
const maxResponseSize = 8 << 20

// Client はリモート求人APIのHTTPクライアント。
// 全メソッドはcontextを受け取り、呼び出し元のビューの寿命に束縛される。
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Config はClientの設定。
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int
}

// NewClient はClientを生成する。
// httpClientがnilの場合はタイムアウト付きの既定クライアントを使用する。
func NewClient(cfg Config, httpClient *http.Client, rec metrics.Recorder, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.RateLimitPerSec)
	if cfg.RateLimitPerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		metrics: rec,
		logger:  logger,
	}
}

// DoEnvelope はエンベロープ形式のエンドポイントを呼び出し、正規化済みResultを返す。
// bodyがnilでない場合はJSONとして送信する。
// 失敗時はサーバーのmessageをそのまま、無ければfallbackを文言とする*model.APIErrorを返す。
func (c *Client) DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*Result, error) {
	raw, err := c.do(ctx, method, path, query, body, token, fallback)
	if err != nil {
		return nil, err
	}
	return parseEnvelope(raw)
}

// DoRaw はエンベロープを使わないエンドポイント（認証系）を呼び出し、生のボディを返す。
func (c *Client) DoRaw(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) ([]byte, error) {
	return c.do(ctx, method, path, query, body, token, fallback)
}

// FilePart はマルチパート送信するファイル1件を表す。
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// PostMultipart は履歴書ファイルとフォームフィールドをmultipart/form-dataで送信する。
// 再開・分割には対応しない。失敗時は全体の再送信が必要となる。
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, file FilePart, token, fallback string) (*Result, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field %q: %w", k, err)
		}
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name=%q; filename=%q`, file.FieldName, file.FileName),
	}
	header["Content-Type"] = []string{file.ContentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, path, nil, &buf, mw.FormDataContentType(), token, fallback)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordUpload(int64(len(file.Data)))
	return parseEnvelope(raw)
}

// do はJSONボディのリクエストを組み立てて実行する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) ([]byte, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, path, query, reader, contentType, token, fallback)
}

// doRequest はリクエスト実行の共通経路。
// レート制御、リクエストID付与、Bearer認証、メトリクス記録、エラー変換を行う。
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType, token, fallback string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", "Jobman/1.0 Recruitment Client")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	endpoint := endpointLabel(path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRequestFailure(method, endpoint)
		c.logger.Error("APIリクエストに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRequestFailedError(err.Error())
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	c.metrics.RecordRequest(method, endpoint, resp.StatusCode)
	c.metrics.RecordLatency(duration)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewRequestFailedError(fmt.Sprintf("response read: %s", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := serverMessage(raw)
		c.logger.Warn("APIがエラーを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil, model.NewServerError(resp.StatusCode, msg, fallback)
	}

	c.logger.Info("APIリクエストが完了しました",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", requestID),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return raw, nil
}

// endpointLabel はメトリクスラベル用にパスからID部分を除いた先頭セグメントを返す。
// ID等の可変セグメントを含めるとラベルのカーディナリティが際限なく増えるため、
// 静的なセグメントのみを残す。
func endpointLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if !isStaticSegment(seg) {
			break
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "/"
	}
	return "/" + strings.Join(kept, "/")
}

// isStaticSegment は英小文字・ハイフン・アンダースコアのみで構成される
// 固定パスセグメントかどうかを返す。
func isStaticSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if (r < 'a' || r > 'z') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
