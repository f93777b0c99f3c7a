package clientquery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Protocol markers.
const (
	bannerMarker = "selected schandlerid="
	statusPrefix = "error "
	notifyPrefix = "notify"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultDialTimeout = 3 * time.Second
)

var (
	// ErrConnection marks failures that end the session: refused or reset
	// connections, EOF, a missing banner, or use after [Client.Close].
	ErrConnection = errors.New("query connection failed")

	// ErrTimeout is returned by [Client.Command] when the response did not
	// complete in time. The connection stays usable.
	ErrTimeout = errors.New("query response timed out")
)

// QueryError is a non-zero status line ("error id=N msg=...") sent in reply
// to a command.
type QueryError struct {
	ID  int
	Msg string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("clientquery: error id=%d: %s", e.ID, e.Msg)
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout bounds every [Client.Command] round trip. Default: 2s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialTimeout bounds connecting and receiving the banner. Default: 3s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// Client is a ClientQuery connection. Commands are strictly sequential: the
// protocol has no request IDs, so a response is matched to its command purely
// by order. All methods are safe for concurrent use but serialise on one lock.
type Client struct {
	timeout     time.Duration
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader

	// pending counts responses of timed-out commands that are still in flight
	// and must be discarded before the next response can be read.
	pending int
}

// Dial connects to the ClientQuery endpoint at addr and waits for the
// greeting banner that ends with "selected schandlerid=N".
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout:     defaultTimeout,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clientquery: dial %s: %w: %w", addr, ErrConnection, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	if err := c.readBanner(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	slog.Debug("clientquery: connected", "addr", addr)
	return c, nil
}

// Auth authenticates with the API key shown in the client's ClientQuery
// settings.
func (c *Client) Auth(ctx context.Context, apiKey string) error {
	if _, err := c.Command(ctx, "auth apikey="+apiKey); err != nil {
		return fmt.Errorf("clientquery: auth: %w", err)
	}
	return nil
}

// Command sends cmd and returns the response body: every line received before
// the status line, joined by "\n". Asynchronous notify lines are dropped.
//
// On timeout the partial body is returned together with [ErrTimeout]; the
// late remainder is discarded by the next call. A non-zero status yields a
// [*QueryError] alongside the body.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", fmt.Errorf("clientquery: %w: client closed", ErrConnection)
	}

	stop := c.armDeadline(ctx, c.timeout)
	defer stop()

	for c.pending > 0 {
		if _, _, err := c.readResponse(); err != nil {
			return "", c.classify(ctx, cmd, err)
		}
		c.pending--
	}

	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return "", c.classify(ctx, cmd, err)
	}

	lines, status, err := c.readResponse()
	body := strings.Join(lines, "\n")
	if err != nil {
		err = c.classify(ctx, cmd, err)
		if errors.Is(err, ErrTimeout) {
			c.pending++
		}
		return body, err
	}
	if qerr := parseStatus(status); qerr != nil {
		return body, qerr
	}
	return body, nil
}

// Close sends a best-effort "quit" and closes the socket. Calling Close more
// than once is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := io.WriteString(c.conn, "quit\n"); err != nil {
		slog.Debug("clientquery: quit failed", "err", err)
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// readBanner consumes the greeting until the schandler selection line.
func (c *Client) readBanner(ctx context.Context) error {
	stop := c.armDeadline(ctx, c.dialTimeout)
	defer stop()

	for {
		line, err := c.readLine()
		if strings.HasPrefix(line, bannerMarker) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("clientquery: banner not received: %w: %w", ErrConnection, err)
		}
	}
}

// readResponse reads lines up to and including the status line.
func (c *Client) readResponse() (lines []string, status string, err error) {
	for {
		line, err := c.readLine()
		if err != nil {
			if line != "" {
				lines = append(lines, line)
			}
			return lines, "", err
		}
		switch {
		case line == "":
		case strings.HasPrefix(line, statusPrefix):
			return lines, line, nil
		case strings.HasPrefix(line, notifyPrefix):
		default:
			lines = append(lines, line)
		}
	}
}

// readLine returns one line without its "\n\r" terminator. A line cut short by
// an error is returned together with that error.
func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	return strings.TrimSpace(line), err
}

// armDeadline sets the socket deadline to the earlier of now+timeout and the
// context deadline, and interrupts blocked I/O when ctx is cancelled. The
// returned func releases the cancellation hook.
func (c *Client) armDeadline(ctx context.Context, timeout time.Duration) func() {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

// classify maps a raw I/O error onto the package sentinels.
func (c *Client) classify(ctx context.Context, cmd string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("clientquery: %s: %w", verb(cmd), ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("clientquery: %s: %w", verb(cmd), ErrTimeout)
	}
	return fmt.Errorf("clientquery: %s: %w: %w", verb(cmd), ErrConnection, err)
}

// verb returns the command name without its parameters so that secrets such
// as the API key never end up in error messages.
func verb(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}

// parseStatus decodes "error id=N msg=TEXT". It returns nil for id=0 and for
// lines it cannot interpret.
func parseStatus(line string) *QueryError {
	qerr := &QueryError{}
	for _, tok := range strings.Fields(line) {
		key, value, _ := strings.Cut(tok, "=")
		switch key {
		case "id":
			id, err := strconv.Atoi(value)
			if err != nil {
				return nil
			}
			qerr.ID = id
		case "msg":
			qerr.Msg = Unescape(value)
		}
	}
	if qerr.ID == 0 {
		return nil
	}
	return qerr
}
