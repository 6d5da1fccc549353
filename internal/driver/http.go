package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cuemby/docrepo/internal/apperr"
)

// Credentialer produces the per-request nebula-credentials header. The
// Notary satisfies this interface; the driver depends only on the narrow
// slice of behavior it needs.
type Credentialer interface {
	Credentials(ctx context.Context, caller string) ([]byte, error)
}

// HTTPDriver is the remote-HTTP storage driver. It maps every primitive to
// a REST method against {base}/repository/{namespace}/{key}, exactly as
// described in the wire format section of the spec: HEAD=exists, GET=read,
// PUT (If-None-Match for immutable writes)=write, DELETE=delete, and
// GET+?prefix= for list.
type HTTPDriver struct {
	base        string
	client      *retryablehttp.Client
	credentials Credentialer
	caller      string
	userAgent   string
}

// NewHTTPDriver creates an HTTP driver against baseURL. Idempotent reads
// (Exists/Read/List) are retried on transient network failure via
// retryablehttp's exponential backoff; Write/Delete are never retried here
// so that allowOverwrite=false semantics are never silently duplicated.
func NewHTTPDriver(baseURL string, credentials Credentialer, caller string) *HTTPDriver {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil // the driver logs itself via slog, below
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		method := ""
		if resp != nil && resp.Request != nil {
			method = resp.Request.Method
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			method = strings.ToUpper(uerr.Op)
		}
		if method == http.MethodPut || method == http.MethodDelete {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &HTTPDriver{
		base:        baseURL,
		client:      client,
		credentials: credentials,
		caller:      caller,
		userAgent:   "docrepo-http-driver/1",
	}
}

func (d *HTTPDriver) objectURL(ns Namespace, key string) string {
	return fmt.Sprintf("%s/repository/%s/%s", d.base, ns, url.PathEscape(key))
}

func (d *HTTPDriver) newRequest(ctx context.Context, method string, ns Namespace, key, digest string, body []byte) (*retryablehttp.Request, error) {
	var reader io.ReadSeeker
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, d.objectURL(ns, key), reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("user-agent", d.userAgent)
	req.Header.Set("accept", "application/bali")
	if body != nil {
		req.Header.Set("content-type", "application/bali")
		req.Header.Set("content-length", strconv.Itoa(len(body)))
	}
	if digest != "" {
		req.Header.Set("nebula-digest", digest)
	}

	if d.credentials != nil {
		creds, err := d.credentials.Credentials(ctx, d.caller)
		if err != nil {
			return nil, NewError("driver/http", method, ns, key, apperr.KindInvalidCredentials, err)
		}
		req.Header.Set("nebula-credentials", string(creds))
	}

	return req, nil
}

func (d *HTTPDriver) do(ctx context.Context, method string, ns Namespace, key, digest string, body []byte) (*http.Response, error) {
	req, err := d.newRequest(ctx, method, ns, key, digest, body)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, NewError("driver/http", method, ns, key, apperr.KindServerDown, err)
	}
	return resp, nil
}

func (d *HTTPDriver) Exists(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	resp, err := d.do(ctx, http.MethodHead, ns, key, digest, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus("driver/http", "Exists", ns, key, resp.StatusCode)
	}
}

func (d *HTTPDriver) Read(ctx context.Context, ns Namespace, key, digest string) ([]byte, error) {
	resp, err := d.do(ctx, http.MethodGet, ns, key, digest, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewError("driver/http", "Read", ns, key, apperr.KindNotFound, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("driver/http", "Read", ns, key, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError("driver/http", "Read", ns, key, apperr.KindIO, err)
	}
	return data, nil
}

func (d *HTTPDriver) Write(ctx context.Context, ns Namespace, key, digest string, data []byte, allowOverwrite bool) error {
	req, err := d.newRequest(ctx, http.MethodPut, ns, key, digest, data)
	if err != nil {
		return err
	}
	if !allowOverwrite {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return NewError("driver/http", "Write", ns, key, apperr.KindServerDown, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return NewError("driver/http", "Write", ns, key, apperr.KindConflict, nil)
	default:
		return classifyStatus("driver/http", "Write", ns, key, resp.StatusCode)
	}
}

func (d *HTTPDriver) Delete(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	resp, err := d.do(ctx, http.MethodDelete, ns, key, digest, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus("driver/http", "Delete", ns, key, resp.StatusCode)
	}
}

func (d *HTTPDriver) List(ctx context.Context, ns Namespace, prefix string, maxKeys int) ([]string, error) {
	reqURL := fmt.Sprintf("%s/repository/%s?prefix=%s", d.base, ns, url.QueryEscape(prefix))
	if maxKeys > 0 {
		reqURL += fmt.Sprintf("&maxKeys=%d", maxKeys)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("user-agent", d.userAgent)
	req.Header.Set("accept", "application/bali")
	if d.credentials != nil {
		creds, err := d.credentials.Credentials(ctx, d.caller)
		if err != nil {
			return nil, NewError("driver/http", "List", ns, prefix, apperr.KindInvalidCredentials, err)
		}
		req.Header.Set("nebula-credentials", string(creds))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, NewError("driver/http", "List", ns, prefix, apperr.KindServerDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("driver/http", "List", ns, prefix, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError("driver/http", "List", ns, prefix, apperr.KindIO, err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var keys []string
	for _, line := range bytesSplitLines(body) {
		if len(line) > 0 {
			keys = append(keys, string(line))
		}
	}
	return keys, nil
}

func bytesSplitLines(data []byte) [][]byte {
	return bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
}

// classifyStatus maps an unexpected HTTP status code onto the repository's
// error kinds, per the server status policy in the spec's wire format.
func classifyStatus(module, method string, ns Namespace, key string, status int) error {
	var kind apperr.Kind
	switch {
	case status == http.StatusForbidden:
		kind = apperr.KindInvalidCredentials
	case status == http.StatusBadRequest:
		kind = apperr.KindMalformedRequest
	case status >= 500:
		kind = apperr.KindIO
	default:
		kind = apperr.KindIO
	}
	slog.Debug("unexpected upstream status", "module", module, "method", method, "namespace", ns, "key", key, "status", status)
	return NewError(module, method, ns, key, kind, fmt.Errorf("unexpected status %d", status))
}
