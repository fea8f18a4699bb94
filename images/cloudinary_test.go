package images

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openhouse/config"
)

// Minimal valid PNG signature; DetectContentType sniffs it as image/png.
var pngBytes = []byte("\x89PNG\r\n\x1a\n" + "fakepixels")

func testStore(t *testing.T, baseURL string) *CloudinaryStore {
	store := NewCloudinaryStore(&config.Config{
		CloudName:      "demo",
		CloudAPIKey:    "test-key",
		CloudAPISecret: "test-secret",
		CloudBaseURL:   baseURL,
		UploadFolder:   "real-estate/properties",
	})
	// Fixed clock keeps timestamps (and thus signatures) deterministic.
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	return store
}

func TestValidateImage(t *testing.T) {
	t.Run("Valid PNG accepted", func(t *testing.T) {
		assert.NoError(t, ValidateImage(pngBytes))
	})

	t.Run("Empty file rejected", func(t *testing.T) {
		err := ValidateImage(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("Oversized file rejected", func(t *testing.T) {
		big := make([]byte, MaxImageBytes+1)
		copy(big, pngBytes)
		err := ValidateImage(big)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size limit")
	})

	t.Run("Non-image content rejected", func(t *testing.T) {
		err := ValidateImage([]byte("<html><body>not an image</body></html>"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only images are accepted")
	})
}

func TestSign(t *testing.T) {
	store := testStore(t, "http://unused")
	params := map[string]string{"timestamp": "1700000000", "public_id": "abc"}

	sig := store.sign(params)
	assert.Len(t, sig, 40, "SHA-1 hex digest")
	assert.Equal(t, sig, store.sign(params), "signing is deterministic")

	changed := store.sign(map[string]string{"timestamp": "1700000001", "public_id": "abc"})
	assert.NotEqual(t, sig, changed, "signature depends on parameter values")
}

func TestUpload(t *testing.T) {
	t.Run("Successful upload", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, r.ParseMultipartForm(10<<20))

			assert.Equal(t, "test-key", r.FormValue("api_key"))
			assert.Equal(t, "real-estate/properties", r.FormValue("folder"))
			assert.Equal(t, uploadTransformation, r.FormValue("transformation"))
			assert.Equal(t, "1700000000", r.FormValue("timestamp"))

			// The signature must cover the signed params (not file/api_key).
			expected := testStore(t, "").sign(map[string]string{
				"timestamp":      r.FormValue("timestamp"),
				"folder":         r.FormValue("folder"),
				"transformation": r.FormValue("transformation"),
			})
			assert.Equal(t, expected, r.FormValue("signature"))

			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			var buf bytes.Buffer
			_, err = buf.ReadFrom(file)
			require.NoError(t, err)
			assert.Equal(t, pngBytes, buf.Bytes())

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"secure_url":"https://res.example/img.jpg","public_id":"real-estate/properties/img"}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		image, err := store.Upload(context.Background(), pngBytes, "house.png")
		require.NoError(t, err)
		assert.Equal(t, "/v1_1/demo/image/upload", gotPath)
		assert.Equal(t, "https://res.example/img.jpg", image.URL)
		assert.Equal(t, "real-estate/properties/img", image.PublicID)
	})

	t.Run("CDN rejection surfaces the error message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Invalid transformation"}}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		_, err := store.Upload(context.Background(), pngBytes, "house.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid transformation")
	})

	t.Run("Malformed response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"unexpected":true}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		_, err := store.Upload(context.Background(), pngBytes, "house.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed upload response")
	})

	t.Run("Invalid image never reaches the network", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for an invalid image")
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		_, err := store.Upload(context.Background(), []byte("plain text"), "notes.txt")
		assert.Error(t, err)
	})

	t.Run("Unconfigured store", func(t *testing.T) {
		store := NewCloudinaryStore(&config.Config{})
		_, err := store.Upload(context.Background(), pngBytes, "house.png")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestDelete(t *testing.T) {
	t.Run("Successful delete", func(t *testing.T) {
		var gotPath, gotPublicID string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, r.ParseMultipartForm(1<<20))
			gotPublicID = r.FormValue("public_id")
			w.Write([]byte(`{"result":"ok"}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		require.NoError(t, store.Delete(context.Background(), "real-estate/properties/img"))
		assert.Equal(t, "/v1_1/demo/image/destroy", gotPath)
		assert.Equal(t, "real-estate/properties/img", gotPublicID)
	})

	t.Run("Not found is idempotent success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":"not found"}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		assert.NoError(t, store.Delete(context.Background(), "gone"))
	})

	t.Run("Unexpected result is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":"pending"}`))
		}))
		defer server.Close()

		store := testStore(t, server.URL)
		assert.Error(t, store.Delete(context.Background(), "img"))
	})

	t.Run("Missing public_id", func(t *testing.T) {
		store := testStore(t, "http://unused")
		assert.Error(t, store.Delete(context.Background(), ""))
	})

	t.Run("Unconfigured store", func(t *testing.T) {
		store := NewCloudinaryStore(&config.Config{})
		assert.ErrorIs(t, store.Delete(context.Background(), "img"), ErrNotConfigured)
	})
}
