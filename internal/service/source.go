package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/digkill/pawstudio/internal/apperr"
)

var (
	errNotImage       = apperr.Validation("file is not a supported image (jpeg, png, webp, heic)")
	errPrivateAddress = errors.New("destination address is not public")
)

var acceptedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/heic", "image/heif"}

// HTTPFetcher downloads source images by URL, capped at maxBytes. Connections to
// loopback, private and link-local addresses are refused at dial time, so
// redirects and DNS answers cannot reach internal hosts either.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return newHTTPFetcher(timeout, maxBytes, false)
}

func newHTTPFetcher(timeout time.Duration, maxBytes int64, allowPrivate bool) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = refusePrivate
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		maxBytes: maxBytes,
	}
}

// refusePrivate runs after name resolution with the concrete ip:port.
func refusePrivate(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errPrivateAddress, address)
	}
	if !isPublicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", errPrivateAddress, ap.Addr())
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", apperr.Validation("imageUrl must be an absolute http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errPrivateAddress) {
			return nil, "", apperr.Validation("imageUrl must point to a public host")
		}
		return nil, "", apperr.Wrap(apperr.KindExternalService, "download source image", err).WithPublic("could not download the source image")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", apperr.Validation(fmt.Sprintf("source image is not reachable (status %d)", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindExternalService, "read source image", err).WithPublic("could not download the source image")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", apperr.Validation(fmt.Sprintf("source image exceeds %d MB", f.maxBytes>>20))
	}

	ct, err := detectImageType(data)
	if err != nil {
		return nil, "", err
	}
	return data, ct, nil
}

// detectImageType sniffs the bytes; declared content types are not trusted.
func detectImageType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errNotImage
	}
	detected := mimetype.Detect(data)
	for _, ct := range acceptedImageTypes {
		if detected.Is(ct) {
			return ct, nil
		}
	}
	return "", errNotImage
}
