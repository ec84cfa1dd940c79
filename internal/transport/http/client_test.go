package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"net/url"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/testkit/fakeapi"
)

func newTestClient(t *testing.T, api *fakeapi.Server, token string, timeout time.Duration) *Client {
	t.Helper()

	client, err := NewClient(api.URL, auth.NewStaticToken(token, 0), timeout, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGetJSONSendsBearerToken(t *testing.T) {
	api := fakeapi.New(t)
	api.SetHistoryJSON("anxiety", `[{"id":1,"senderNickname":"sam","content":"hi","timestamp":100}]`)
	client := newTestClient(t, api, api.Token(t, "sam", time.Hour), time.Second)

	var out []map[string]any
	if err := client.GetJSON(context.Background(), "/api/messages/anxiety", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(out) != 1 || out[0]["content"] != "hi" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestUnauthorizedMapsToAuthError(t *testing.T) {
	api := fakeapi.New(t)
	client := newTestClient(t, api, "not-a-jwt", time.Second)

	err := client.GetJSON(context.Background(), "/api/messages/anxiety", &[]any{})
	if !errors.Is(err, core.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestPostReportsStatusErrors(t *testing.T) {
	api := fakeapi.New(t)
	api.FailReports(stdhttp.StatusServiceUnavailable)
	client := newTestClient(t, api, api.Token(t, "sam", time.Hour), time.Second)

	err := client.Post(context.Background(), "/api/report", url.Values{
		"reporter": {"sam"}, "reported": {"kim"}, "room": {"anxiety"},
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != stdhttp.StatusServiceUnavailable || !statusErr.Temporary() {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestTimeoutMapsToNetworkError(t *testing.T) {
	api := fakeapi.New(t)
	api.SetHistoryDelay(500 * time.Millisecond)
	client := newTestClient(t, api, api.Token(t, "sam", time.Hour), 50*time.Millisecond)

	err := client.GetJSON(context.Background(), "/api/messages/anxiety", &[]any{})
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestCallerCancellationIsNotANetworkError(t *testing.T) {
	api := fakeapi.New(t)
	api.SetHistoryDelay(500 * time.Millisecond)
	client := newTestClient(t, api, api.Token(t, "sam", time.Hour), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.GetJSON(ctx, "/api/messages/anxiety", &[]any{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
	if errors.Is(err, core.ErrNetwork) {
		t.Fatalf("caller cancellation must not be reported as network error")
	}
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	if _, err := NewClient("ftp://example.com", auth.NewStaticToken("x", 0), time.Second, nil); err == nil {
		t.Fatalf("expected scheme validation error")
	}
}
