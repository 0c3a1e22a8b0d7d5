package model

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	iface "CoDetServer/interface"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNames(t *testing.T) {
	dir := t.TempDir()

	t.Run("Test CRLF And Blank Lines", func(t *testing.T) {
		path := filepath.Join(dir, "coco.names")
		require.NoError(t, os.WriteFile(path, []byte("person\r\nbicycle\r\n\r\ndog\n\n"), 0o644))
		names, err := ReadNames(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"person", "bicycle", "dog"}, names)
	})

	t.Run("Test Empty File", func(t *testing.T) {
		path := filepath.Join(dir, "empty.names")
		require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))
		_, err := ReadNames(path)
		assert.Error(t, err)
	})

	t.Run("Test Missing File", func(t *testing.T) {
		_, err := ReadNames(filepath.Join(dir, "missing.names"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Test Class Name Fallback", func(t *testing.T) {
		assert.Equal(t, "dog", className([]string{"person", "dog"}, 1))
		assert.Equal(t, "class_7", className([]string{"person", "dog"}, 7))
	})
}

func TestDecodeRows(t *testing.T) {
	// cx, cy, w, h, objectness, person, dog
	data := []float32{
		0.5, 0.5, 0.2, 0.4, 0.9, 0.1, 0.8,
		0.25, 0.25, 0.1, 0.1, 0.9, 0.3, 0.2,
		0.5, 0.5, 0.5, 0.5, 0.9, 0.95, 0.1,
	}
	cands := decodeRows(data, 7, 100, 200, 0.5)
	require.Len(t, cands, 2)

	assert.Equal(t, 1, cands[0].classID)
	assert.InDelta(t, 0.8, cands[0].score, 1e-6)
	assert.Equal(t, 40, cands[0].rect.Min.X)
	assert.Equal(t, 60, cands[0].rect.Min.Y)
	assert.Equal(t, 20, cands[0].rect.Dx())
	assert.Equal(t, 80, cands[0].rect.Dy())

	got := toDetections(cands, []int{1, 0, 9}, []string{"person", "dog"})
	want := []iface.Detection{
		{Class: "person", Confidence: float64(float32(0.95)), Box: iface.BoundingBox{X: 25, Y: 50, Width: 50, Height: 100}},
		{Class: "dog", Confidence: float64(float32(0.8)), Box: iface.BoundingBox{X: 40, Y: 60, Width: 20, Height: 80}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}

	t.Run("Test Clipped To Frame", func(t *testing.T) {
		cands := decodeRows([]float32{0.0, 0.0, 0.2, 0.2, 1, 0.9}, 6, 100, 100, 0.5)
		require.Len(t, cands, 1)
		assert.Equal(t, 0, cands[0].rect.Min.X)
		assert.Equal(t, 10, cands[0].rect.Dx())
	})

	t.Run("Test Malformed", func(t *testing.T) {
		assert.Empty(t, decodeRows([]float32{1, 2, 3}, 4, 100, 100, 0.1))
		assert.Empty(t, decodeRows(data[:10], 7, 100, 100, 0.5)[1:])
	})
}

func TestNewLoader(t *testing.T) {
	l, err := NewLoader(iface.EngineConfig{Backend: BackendRemote}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RemoteLoader{}, l)

	l, err = NewLoader(iface.EngineConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &NetLoader{}, l)

	_, err = NewLoader(iface.EngineConfig{Backend: "tflite"}, nil)
	assert.Error(t, err)
}

func TestNetLoader(t *testing.T) {
	t.Run("Test Empty Path", func(t *testing.T) {
		_, err := (&NetLoader{}).LoadModel(context.Background())
		assert.Error(t, err)
	})

	t.Run("Test Missing Names", func(t *testing.T) {
		l := &NetLoader{Config: iface.EngineConfig{ModelPath: "yolo.onnx", NamesPath: filepath.Join(t.TempDir(), "none")}}
		_, err := l.LoadModel(context.Background())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func detectServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/detect", func(c *gin.Context) {
		var req detectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil || req.Image == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image"})
			return
		}
		if status != http.StatusOK {
			c.JSON(status, gin.H{"error": "inference error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []iface.Detection{
			{Class: "person", Confidence: 0.91, Box: iface.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}},
		}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func grayFrame() iface.ImageData {
	return iface.ImageData{Data: make([]byte, 8*8*3), Width: 8, Height: 8, Channels: 3}
}

func TestRemoteBackend(t *testing.T) {
	t.Run("Test Detect", func(t *testing.T) {
		srv := detectServer(t, http.StatusOK)
		l := &RemoteLoader{Config: iface.EngineConfig{Backend: BackendRemote, Endpoint: srv.URL, Conf: 0.5}}
		b, err := l.LoadModel(context.Background())
		require.NoError(t, err)
		defer b.Destroy()

		got, err := b.Detect(context.Background(), grayFrame())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "person", got[0].Class)
		assert.Equal(t, 91, got[0].Percent())
		assert.Equal(t, DefaultRemoteTimeout, b.CheckConfig().Timeout)
	})

	t.Run("Test Server Error", func(t *testing.T) {
		srv := detectServer(t, http.StatusInternalServerError)
		b, err := (&RemoteLoader{Config: iface.EngineConfig{Endpoint: srv.URL}}).LoadModel(context.Background())
		require.NoError(t, err)

		_, err = b.Detect(context.Background(), grayFrame())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inference error")
	})

	t.Run("Test Empty Frame", func(t *testing.T) {
		srv := detectServer(t, http.StatusOK)
		b, err := (&RemoteLoader{Config: iface.EngineConfig{Endpoint: srv.URL}}).LoadModel(context.Background())
		require.NoError(t, err)
		_, err = b.Detect(context.Background(), iface.ImageData{})
		assert.Error(t, err)
	})

	t.Run("Test Unreachable", func(t *testing.T) {
		srv := detectServer(t, http.StatusOK)
		url := srv.URL
		srv.Close()
		_, err := (&RemoteLoader{Config: iface.EngineConfig{Endpoint: url}}).LoadModel(context.Background())
		assert.Error(t, err)
	})

	t.Run("Test No Endpoint", func(t *testing.T) {
		_, err := (&RemoteLoader{}).LoadModel(context.Background())
		assert.Error(t, err)
	})
}
