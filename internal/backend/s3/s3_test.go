package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"roastline/internal/domain"
	"roastline/internal/schedule"
)

// fakeBucket answers the object GET/PUT calls the backend makes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(req.URL.Path, "/")
	empty := func(status int) *http.Response {
		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
	}
	switch req.Method {
	case http.MethodPut:
		if f.failPut {
			return empty(http.StatusInternalServerError), nil
		}
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = body
		resp := empty(http.StatusOK)
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/json"},
		}}, nil
	}
	return empty(http.StatusNotImplemented), nil
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeBackend(t *testing.T) (*Backend, *fakeBucket) {
	t.Helper()
	fake := &fakeBucket{objects: map[string][]byte{}}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("aws config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		o.RetryMaxAttempts = 1
	})
	return NewWithClient(client, "roastery", ""), fake
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestMissingObjectIsEmpty(t *testing.T) {
	b, _ := newFakeBackend(t)
	env, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(env.Entries) != 0 {
		t.Fatalf("expected empty collection")
	}
}

func TestStoreOverS3(t *testing.T) {
	ctx := context.Background()
	b, fake := newFakeBackend(t)
	s := schedule.New(b)
	created, err := s.Create(ctx, domain.ScheduleEntryRequest{
		CoffeeName:       "Rwanda",
		GreenCoffeeName:  "Rwanda Nyamasheke",
		ScheduledDate:    "2025-04-02",
		GreenWeight:      600,
		TargetRoastLevel: domain.RoastLight,
		EquipmentID:      "bullet-v2",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := fake.objects["roastery/"+DefaultKey]; !ok {
		t.Fatalf("object not written, have %v", fake.objects)
	}
	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CoffeeName != "Rwanda" {
		t.Fatalf("unexpected entry %+v", got)
	}

	fake.failPut = true
	if _, err := s.Complete(ctx, created.ID, nil); err == nil {
		t.Fatalf("expected persistence error")
	}
}
