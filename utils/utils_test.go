package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("emblem", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(MaxEmblemBytes*2))
	return req.MultipartForm.File["emblem"][0]
}

func TestUploadEmblem(t *testing.T) {
	putter := &fakePutter{}
	store := &R2Store{Client: putter, Bucket: "emblems-bucket", CDNBaseURL: "https://cdn.example.com"}

	url, err := store.UploadEmblem(t.Context(), fileHeader(t, "logo.png", pngHeader), "g-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/emblems/g-1/v1.png", url)
	assert.Equal(t, "emblems-bucket", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "emblems/g-1/v1.png", aws.ToString(putter.input.Key))
	assert.Equal(t, "image/png", aws.ToString(putter.input.ContentType))
	assert.Equal(t, pngHeader, putter.body)
}

func TestUploadEmblemRejectsNonImages(t *testing.T) {
	store := &R2Store{Client: &fakePutter{}, Bucket: "b", CDNBaseURL: "https://cdn"}
	_, err := store.UploadEmblem(t.Context(), fileHeader(t, "evil.png", []byte("<html>nope</html>")), "g", "v")
	assert.ErrorIs(t, err, ErrInvalidImage)

	big := append(append([]byte{}, pngHeader...), make([]byte, MaxEmblemBytes)...)
	_, err = store.UploadEmblem(t.Context(), fileHeader(t, "big.png", big), "g", "v")
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestUploadEmblemSurfacesBucketErrors(t *testing.T) {
	store := &R2Store{Client: &fakePutter{err: errors.New("access denied")}, Bucket: "b", CDNBaseURL: "https://cdn"}
	_, err := store.UploadEmblem(t.Context(), fileHeader(t, "logo.png", pngHeader), "g", "v")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidImage)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))

	log, err = NewLogger("WARN", "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(0))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.NotNil(t, c.Transport)
}
