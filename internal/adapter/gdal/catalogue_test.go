package gdal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain"
)

func TestVSIPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"s3://bucket/layers/cover.tif", "/vsis3/bucket/layers/cover.tif"},
		{"gs://bucket/layers/cover.tif", "/vsigs/bucket/layers/cover.tif"},
		{"https://example.com/cover.tif", "/vsicurl/https://example.com/cover.tif"},
		{"/data/cover.tif", "/data/cover.tif"},
	}
	for _, c := range cases {
		if got := VSIPath(c.in); got != c.want {
			t.Errorf("VSIPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWithRetryRecoversTransientFailure(t *testing.T) {
	c := &Catalogue{cfg: config.Raster{MaxRetries: 3, RetryBase: time.Millisecond}}

	calls := 0
	err := c.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return domain.TransientIO(errors.New("connection reset by peer"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want a retry after the transient failure", calls)
	}
}

func TestWithRetryDoesNotRetryPermanentFailure(t *testing.T) {
	c := &Catalogue{cfg: config.Raster{MaxRetries: 3, RetryBase: time.Millisecond}}

	calls := 0
	err := c.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.PermanentIO(errors.New("404"))
	})
	if !domain.IsPermanentIO(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestWithRetryDisabled(t *testing.T) {
	c := &Catalogue{cfg: config.Raster{MaxRetries: 0}}

	calls := 0
	err := c.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.TransientIO(errors.New("503"))
	})
	if !domain.IsTransientIO(err) {
		t.Fatalf("err = %v, want the transient error propagated unchanged", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 with retries disabled", calls)
	}
}

func TestClassify(t *testing.T) {
	permanent := []string{
		"/vsis3/bucket/missing.tif: No such file or directory",
		"'x.bin' not recognized as a supported file format",
		"HTTP response code: 404",
		"HTTP response code: 403",
	}
	for _, msg := range permanent {
		if err := classify(errors.New(msg)); !domain.IsPermanentIO(err) {
			t.Errorf("classify(%q) not permanent", msg)
		}
	}

	transient := []string{
		"connection reset by peer",
		"HTTP response code: 503",
		"timeout waiting for response",
	}
	for _, msg := range transient {
		if err := classify(errors.New(msg)); !domain.IsTransientIO(err) {
			t.Errorf("classify(%q) not transient", msg)
		}
	}
}
