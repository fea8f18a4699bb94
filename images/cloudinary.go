// Package images stores property photos on the Cloudinary CDN.
package images

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"openhouse/config"
	"openhouse/models"
)

// Upload constraints, enforced before any bytes leave the server.
const (
	MaxImageBytes        = 5 << 20 // 5 MB per image
	MaxImagesPerProperty = 10
)

// Incoming images are resized down to fit this bounding box; smaller images
// are left alone.
const uploadTransformation = "c_limit,h_800,w_1200"

const defaultBaseURL = "https://api.cloudinary.com"

// ErrNotConfigured is returned when no CDN credentials are present. The API
// degrades to text-only listings rather than failing startup.
var ErrNotConfigured = errors.New("image storage is not configured")

// Store uploads and deletes property images. It is an interface so handler
// tests can substitute a fake without network access.
type Store interface {
	Upload(ctx context.Context, data []byte, filename string) (models.Image, error)
	Delete(ctx context.Context, publicID string) error
}

// CloudinaryStore talks to the Cloudinary upload API using signed requests.
type CloudinaryStore struct {
	cloudName string
	apiKey    string
	apiSecret string
	baseURL   string
	folder    string
	client    *http.Client

	// now is stubbed in tests to keep signatures deterministic.
	now func() time.Time
}

// NewCloudinaryStore builds a store from the configuration. A store with
// missing credentials is still usable; its methods return ErrNotConfigured.
func NewCloudinaryStore(cfg *config.Config) *CloudinaryStore {
	baseURL := cfg.CloudBaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &CloudinaryStore{
		cloudName: cfg.CloudName,
		apiKey:    cfg.CloudAPIKey,
		apiSecret: cfg.CloudAPISecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		folder:    cfg.UploadFolder,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

func (s *CloudinaryStore) configured() bool {
	return s.cloudName != "" && s.apiKey != "" && s.apiSecret != ""
}

// ValidateImage checks the size and content-type constraints for a single
// uploaded file. The content type is sniffed from the bytes, not taken from
// the client's headers.
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return errors.New("image file is empty")
	}
	if len(data) > MaxImageBytes {
		return fmt.Errorf("image exceeds the %d MB size limit", MaxImageBytes>>20)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("unsupported file type '%s': only images are accepted", contentType)
	}
	return nil
}

// Upload sends one image to the CDN and returns its durable URL and public ID.
func (s *CloudinaryStore) Upload(ctx context.Context, data []byte, filename string) (models.Image, error) {
	if !s.configured() {
		return models.Image{}, ErrNotConfigured
	}
	if err := ValidateImage(data); err != nil {
		return models.Image{}, err
	}

	params := map[string]string{
		"timestamp":      strconv.FormatInt(s.now().Unix(), 10),
		"folder":         s.folder,
		"transformation": uploadTransformation,
	}
	signature := s.sign(params)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
		}
	}
	if err := writer.WriteField("api_key", s.apiKey); err != nil {
		return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	if err := writer.WriteField("signature", signature); err != nil {
		return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.Image{}, fmt.Errorf("failed to build upload request: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/v1_1/%s/image/upload", s.baseURL, s.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("ERROR: Image upload request failed: %v", err)
		return models.Image{}, fmt.Errorf("image upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := gjson.GetBytes(respBody, "error.message").String()
		log.Printf("ERROR: Image upload rejected (status %d): %s", resp.StatusCode, message)
		return models.Image{}, fmt.Errorf("image upload rejected (status %d): %s", resp.StatusCode, message)
	}

	result := gjson.ParseBytes(respBody)
	image := models.Image{
		URL:      result.Get("secure_url").String(),
		PublicID: result.Get("public_id").String(),
	}
	if image.URL == "" || image.PublicID == "" {
		log.Printf("ERROR: Image upload response missing secure_url/public_id: %s", string(respBody))
		return models.Image{}, errors.New("malformed upload response from image CDN")
	}

	log.Printf("INFO: Uploaded image %s", image.PublicID)
	return image, nil
}

// Delete removes a previously uploaded image from the CDN. A "not found"
// result is treated as success so deletes stay idempotent.
func (s *CloudinaryStore) Delete(ctx context.Context, publicID string) error {
	if !s.configured() {
		return ErrNotConfigured
	}
	if publicID == "" {
		return errors.New("public_id is required")
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
		"public_id": publicID,
	}
	signature := s.sign(params)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to build destroy request: %w", err)
		}
	}
	if err := writer.WriteField("api_key", s.apiKey); err != nil {
		return fmt.Errorf("failed to build destroy request: %w", err)
	}
	if err := writer.WriteField("signature", signature); err != nil {
		return fmt.Errorf("failed to build destroy request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build destroy request: %w", err)
	}

	destroyURL := fmt.Sprintf("%s/v1_1/%s/image/destroy", s.baseURL, s.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destroyURL, &body)
	if err != nil {
		return fmt.Errorf("failed to create destroy request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("ERROR: Image destroy request failed: %v", err)
		return fmt.Errorf("image delete failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read destroy response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := gjson.GetBytes(respBody, "error.message").String()
		log.Printf("ERROR: Image destroy rejected (status %d): %s", resp.StatusCode, message)
		return fmt.Errorf("image delete rejected (status %d): %s", resp.StatusCode, message)
	}

	// Cloudinary reports "ok" or "not found" in the result field.
	result := gjson.GetBytes(respBody, "result").String()
	if result != "ok" && result != "not found" {
		log.Printf("WARN: Image destroy returned result '%s' for %s", result, publicID)
		return fmt.Errorf("image delete returned '%s'", result)
	}

	log.Printf("INFO: Deleted image %s", publicID)
	return nil
}

// sign computes the request signature: the parameters sorted by key, joined
// as a query string, with the API secret appended, hashed with SHA-1.
func (s *CloudinaryStore) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	payload := strings.Join(pairs, "&") + s.apiSecret
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
