package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sys/unix"
)

// CheckNtfy verifies that the ntfy server behind topic answers HTTP. It requests
// the health endpoint so no notification is published.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topic))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topic)}
	}
	root := parsed.Scheme + "://" + parsed.Host + "/v1/health"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := resty.New().
		SetTimeout(5*time.Second).
		R().
		SetContext(checkCtx).
		Get(root)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	// Older ntfy servers lack /v1/health; any answer proves reachability.
	if resp.StatusCode() >= 500 {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode())}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckBindAvailable verifies that nothing else is listening on addr.
func CheckBindAvailable(addr string) Result {
	const name = "Listener"

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (ntfy unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (ntfy unreachable)"
	}
	return err.Error()
}
