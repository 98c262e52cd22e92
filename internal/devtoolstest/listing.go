package devtoolstest

import (
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// Target is one entry of the served listing.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerUrl string `json:"webSocketDebuggerUrl"`
}

// Listing serves GET /json/list from a fiber app on a loopback port.
type Listing struct {
	app  *fiber.App
	addr *net.TCPAddr
}

// NewListing starts serving targets. Status, when non-zero, replaces the 200 response with
// an error of that status. The app is shut down by t.Cleanup.
func NewListing(t testing.TB, targets []Target, status int) *Listing {
	t.Helper()

	if targets == nil {
		targets = []Target{}
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/json/list", func(c *fiber.Ctx) error {
		if status != 0 {
			return c.Status(status).JSON(fiber.Map{"error": "listing unavailable"})
		}
		return c.JSON(targets)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("devtoolstest: listen: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})

	return &Listing{app: app, addr: ln.Addr().(*net.TCPAddr)}
}

// Host is the listening host.
func (l *Listing) Host() string { return l.addr.IP.String() }

// Port is the listening port.
func (l *Listing) Port() int { return l.addr.Port }

// URL is the full address of the listing.
func (l *Listing) URL() string {
	return fmt.Sprintf("http://%s/json/list", net.JoinHostPort(l.Host(), strconv.Itoa(l.Port())))
}
