package httpapi

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualbatch/internal/adapter/repo"
	"visualbatch/internal/archive"
	"visualbatch/internal/domain"
	"visualbatch/internal/generation"
	"visualbatch/internal/http/handlers"
	"visualbatch/internal/middleware"
	"visualbatch/internal/pipeline"
	"visualbatch/internal/providers/image"
	"visualbatch/internal/queue"
	"visualbatch/internal/realtime"
	"visualbatch/internal/storage"
)

const testSecret = "test-secret"

type harness struct {
	server  *httptest.Server
	worker  *pipeline.Worker
	streams *realtime.Streams
	blobDir string
}

func newHarness(t *testing.T, gen image.Generator) *harness {
	t.Helper()
	logger := zerolog.Nop()
	dir := t.TempDir()

	store, err := storage.NewFileStore(dir+"/blobs", "http://example.test/static")
	require.NoError(t, err)
	builder, err := archive.NewBuilder(store, dir+"/archives", logger)
	require.NoError(t, err)

	generations := repo.NewMemoryGenerationRepository()
	q := queue.NewMemoryQueue(queue.Options{MaxAttempts: 2, BaseBackoff: time.Millisecond})
	svc := generation.NewService(generations, q, logger)

	streams := realtime.NewStreams(logger)
	rooms := realtime.NewRooms(logger, nil)
	processor := pipeline.NewProcessor(generations, gen, store, realtime.NewBroadcaster(streams, rooms), pipeline.ProcessorOptions{Logger: logger})
	worker := pipeline.NewWorker(q, processor, pipeline.WorkerOptions{Logger: logger})

	app := handlers.NewApp(svc, builder, streams, rooms, store, logger)
	srv := httptest.NewServer(NewRouter(app, RouterOptions{
		JWTSecret:       testSecret,
		RateLimitPerMin: 1000,
		StaticDir:       store.BasePath(),
		Logger:          logger,
	}))
	t.Cleanup(srv.Close)
	return &harness{server: srv, worker: worker, streams: streams, blobDir: store.BasePath()}
}

func token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := middleware.SignJWT(testSecret, owner, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, rdr)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, owner))
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func pngGenerator() image.Generator {
	return image.GeneratorFunc(func(ctx context.Context, req image.Request) (*image.Result, error) {
		if strings.Contains(req.Prompt, "broken") {
			return nil, errors.New("model refused")
		}
		return &image.Result{MimeType: "image/png", Data: []byte("png:" + req.Prompt)}, nil
	})
}

func (h *harness) create(t *testing.T, owner string) domain.Generation {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/generations", owner, map[string]string{
		"product_ref":     "prod-1",
		"style_ref":       "style-1",
		"product_name":    "Café Mug",
		"collection_name": "Spring 26",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[domain.Generation](t, resp)
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t, pngGenerator())
	resp := h.do(t, http.MethodGet, "/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenAPIDocumentRevalidates(t *testing.T) {
	h := newHarness(t, pngGenerator())
	resp := h.do(t, http.MethodGet, "/v1/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	assert.Contains(t, doc, "openapi")
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/v1/openapi.json", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	again, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer again.Body.Close()
	assert.Equal(t, http.StatusNotModified, again.StatusCode)
}

func TestRequiresBearerToken(t *testing.T) {
	h := newHarness(t, pngGenerator())
	resp := h.do(t, http.MethodPost, "/v1/generations", "", map[string]string{"product_ref": "p", "style_ref": "s"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "unauthorized", body.Error.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")

	resp := h.do(t, http.MethodPost, "/v1/generations", "alice", map[string]string{"product_ref": "p"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decode[errorResponse](t, resp).Error.Code)

	resp = h.do(t, http.MethodGet, "/v1/generations/"+gen.ID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/generations/not-a-uuid", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/generations/00000000-0000-0000-0000-000000000000", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/visuals/x/retry", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitProcessAndDownload(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")
	assert.Equal(t, domain.StatusPending, gen.Status)

	resp := h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/submit", "alice", map[string]any{
		"prompts":      []string{"front shot", "broken side", "top shot"},
		"visual_types": []string{"front", "side", "top"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, domain.StatusProcessing, decode[domain.Generation](t, resp).Status)

	resp = h.do(t, http.MethodPost, "/v1/submit", "alice", map[string]any{
		"generation_id": gen.ID,
		"prompts":       []string{"again"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/generations/"+gen.ID+"/download", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	claimed, err := h.worker.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, claimed)

	resp = h.do(t, http.MethodGet, "/v1/generations/"+gen.ID+"/progress", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	progress := decode[generation.Progress](t, resp)
	assert.Equal(t, domain.StatusCompleted, progress.Status)
	assert.Equal(t, 100, progress.ProgressPercent)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 3, progress.Total)
	assert.NotEmpty(t, progress.Visuals[1].Error)

	resp = h.do(t, http.MethodGet, "/v1/generations/"+gen.ID+"/download", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename=cafe-mug-visuals.zip`)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"spring-26/cafe-mug/front.png", "spring-26/cafe-mug/top.png"}, names)

	resp = h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/reset", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reset := decode[domain.Generation](t, resp)
	assert.Equal(t, domain.StatusPending, reset.Status)
	for _, v := range reset.Visuals {
		assert.Empty(t, v.ImageURL)
	}
}

func TestDownloadWithLostBlobIsInternalError(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")
	resp := h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/submit", "alice", map[string]any{
		"prompts": []string{"front shot"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	claimed, err := h.worker.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, os.RemoveAll(filepath.Join(h.blobDir, "generations", gen.ID)))

	resp = h.do(t, http.MethodGet, "/v1/generations/"+gen.ID+"/download", "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal", decode[errorResponse](t, resp).Error.Code)
}

func TestRetryVisualRequeuesOneItem(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")

	resp := h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/submit", "alice", map[string]any{
		"prompts": []string{"ok", "broken"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, err := h.worker.RunOnce(context.Background(), 1)
	require.NoError(t, err)

	resp = h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/visuals/5/retry", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/generations/"+gen.ID+"/visuals/1/retry", "alice", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	retried := decode[domain.Generation](t, resp)
	assert.Equal(t, domain.StatusProcessing, retried.Status)
	assert.Equal(t, domain.StatusCompleted, retried.Visuals[0].Status)
	assert.Equal(t, domain.StatusPending, retried.Visuals[1].Status)
}

func TestStreamDeliversEvents(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")

	resp := h.do(t, http.MethodGet, "/v1/generations/"+gen.ID+"/stream", "mallory", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/v1/generations/"+gen.ID+"/stream?access_token="+token(t, "alice"), nil)
	require.NoError(t, err)
	stream, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	reader := bufio.NewReader(stream.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return h.streams.Subscribers(gen.ID) == 1 }, time.Second, 5*time.Millisecond)

	ev, err := realtime.NewEvent(gen.ID, realtime.EventVisualProcessing, realtime.VisualProcessing{Type: "front", Index: 0})
	require.NoError(t, err)
	h.streams.Publish(ev)

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: visual_processing", lines[0])
	assert.Contains(t, lines[1], `"index":0`)
}

func TestWebSocketRoomsCheckOwnership(t *testing.T) {
	h := newHarness(t, pngGenerator())
	gen := h.create(t, "alice")

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/ws?access_token=" + token(t, "mallory")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(realtime.RoomMessage{Action: "subscribe", GenerationID: gen.ID}))
	var reply map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}
