package httputil

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestSuccess(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}

	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error {
		return Success(c, payload{Name: "alice"})
	})

	resp := doRequest(t, app, "/ok")
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got payload
	decodeBody(t, resp, &got)

	if got.Name != "alice" {
		t.Errorf("name = %q, want %q", got.Name, "alice")
	}
}

func TestSuccessStatus(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/s", func(c *fiber.Ctx) error {
		return SuccessStatus(c, http.StatusCreated, "created")
	})

	resp := doRequest(t, app, "/s")
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got string
	decodeBody(t, resp, &got)

	if got != "created" {
		t.Errorf("body = %q, want %q", got, "created")
	}
}

func TestFail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		message string
	}{
		{name: "400 validation error", status: http.StatusBadRequest, message: "invalid input"},
		{name: "401 unauthorized", status: http.StatusUnauthorized, message: "authentication required"},
		{name: "404 not found", status: http.StatusNotFound, message: "resource not found"},
		{name: "500 internal error", status: http.StatusInternalServerError, message: "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New()
			app.Get("/err", func(c *fiber.Ctx) error {
				return Fail(c, tt.status, tt.message)
			})

			resp := doRequest(t, app, "/err")
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}

			var body ErrorResponse
			decodeBody(t, resp, &body)

			if body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
		})
	}
}

func TestResponseContentType(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/success", func(c *fiber.Ctx) error {
		return Success(c, "ok")
	})
	app.Get("/fail", func(c *fiber.Ctx) error {
		return Fail(c, http.StatusBadRequest, "bad")
	})

	for _, path := range []string{"/success", "/fail"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			resp := doRequest(t, app, path)
			defer func() { _ = resp.Body.Close() }()

			mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
			if err != nil {
				t.Fatalf("parsing Content-Type: %v", err)
			}
			if mediaType != "application/json" {
				t.Errorf("media type = %q, want %q", mediaType, "application/json")
			}
		})
	}
}

// doRequest sends a request to the Fiber test server and returns the response.
func doRequest(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	return resp
}

// decodeBody reads the response body and JSON-decodes it into dst.
func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decoding JSON: %v\nraw: %s", err, body)
	}
}
