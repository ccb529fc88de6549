package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/chediazfadel/salescast/internal/httputil"
)

const ftpTimeout = 30 * time.Second

// httpMaxElapsed caps the total time spent retrying an HTTP download.
var httpMaxElapsed = 2 * time.Minute

// Open returns a reader for a local file path, an ftp:// URL or an
// http(s):// URL. FTP credentials default to anonymous when the URL carries
// none.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(location, "ftp://"):
		return openFTP(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return openHTTP(ctx, httputil.NewClient(), location)
	}
	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return f, nil
}

func parseFTPURL(raw string) (host, path, user, pass string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", "", fmt.Errorf("parse ftp url: %w", err)
	}
	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", "", "", fmt.Errorf("ftp url %q has no file path", raw)
	}

	user, pass = "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	return host, u.Path, user, pass, nil
}

// ftpFile closes the transfer and the control connection together.
type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) { return f.resp.Read(p) }

func (f *ftpFile) Close() error {
	respErr := f.resp.Close()
	quitErr := f.conn.Quit()
	if respErr != nil {
		return fmt.Errorf("close ftp response: %w", respErr)
	}
	if quitErr != nil {
		return fmt.Errorf("ftp quit: %w", quitErr)
	}
	return nil
}

func openFTP(ctx context.Context, location string) (io.ReadCloser, error) {
	host, path, user, pass, err := parseFTPURL(location)
	if err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

// openHTTP downloads the whole body, retrying rate limits and server errors.
func openHTTP(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch %s: %w", location, err)
		}
		defer resp.Body.Close()

		if httputil.Retryable(resp.StatusCode) {
			return fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", location, resp.StatusCode, strings.TrimSpace(string(b))))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = httpMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}
