package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// QueryError is a hub-reported failure to answer a query.
type QueryError struct {
	Code    uint8
	Message string
}

func (e *QueryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("query failed (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("query failed (code %d)", e.Code)
}

// RejectedError is returned when the hub refuses an upload step.
type RejectedError struct {
	Kind   Kind
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("hub rejected %s: %s", e.Kind, e.Reason)
}

// IsNoDevice reports whether err is the hub saying a port is empty.
func IsNoDevice(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Code == QueryErrNoDevice
}

// Client correlates requests and replies on a Connection by transaction ID.
// Frames that do not answer the pending request (stdout, markers) are kept
// in a backlog and handed out by Next in arrival order.
type Client struct {
	conn    Connection
	timeout time.Duration

	sendMu        sync.Mutex
	transactionID uint16

	readMu  sync.Mutex
	backlog []*Frame
}

func NewClient(conn Connection, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		timeout: timeout,
	}
}

// nextID skips 0, which hub-initiated frames carry.
func (c *Client) nextID() uint16 {
	c.transactionID++
	if c.transactionID == 0 {
		c.transactionID = 1
	}
	return c.transactionID
}

// Send writes a frame without waiting for a reply.
func (c *Client) Send(ctx context.Context, request *Frame) error {
	c.sendMu.Lock()
	request.TransactionID = c.nextID()
	err := c.conn.Send(ctx, request.Encode())
	c.sendMu.Unlock()

	if err != nil {
		return fmt.Errorf("send %s failed: %w", request.Kind, err)
	}
	return nil
}

// Request sends a frame and waits for the frame carrying the same
// transaction ID, bounded by the client timeout.
func (c *Client) Request(ctx context.Context, request *Frame) (*Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.Send(ctx, request); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for {
		data, err := c.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("no reply to %s within %s: %w", request.Kind, c.timeout, err)
			}
			return nil, fmt.Errorf("read failed: %w", err)
		}

		response, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode failed: %w", err)
		}

		if response.TransactionID != request.TransactionID {
			c.backlog = append(c.backlog, response)
			continue
		}
		return response, nil
	}
}

// Next returns the next frame not consumed by a request.
func (c *Client) Next(ctx context.Context) (*Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.backlog) > 0 {
		frame := c.backlog[0]
		c.backlog = c.backlog[1:]
		return frame, nil
	}

	data, err := c.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(data)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Query asks the hub one question and returns the reply frame.
func (c *Client) Query(ctx context.Context, code QueryCode, arg []byte) (*Frame, error) {
	response, err := c.Request(ctx, QueryRequest(0, code, arg))
	if err != nil {
		return nil, err
	}

	switch response.Kind {
	case KindReply:
		return response, nil
	case KindQueryError:
		code, msg := response.ParseQueryError()
		return nil, &QueryError{Code: code, Message: msg}
	default:
		return nil, fmt.Errorf("unexpected %s in reply to query", response.Kind)
	}
}

func (c *Client) HubType(ctx context.Context) (string, error) {
	reply, err := c.Query(ctx, QueryHubType, nil)
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

func (c *Client) HubName(ctx context.Context) (string, error) {
	reply, err := c.Query(ctx, QueryHubName, nil)
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	reply, err := c.Query(ctx, QueryFirmwareVersion, nil)
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

// BatteryMillivolts reads the battery voltage in mV.
func (c *Client) BatteryMillivolts(ctx context.Context) (int, error) {
	reply, err := c.Query(ctx, QueryBatteryVoltage, nil)
	if err != nil {
		return 0, err
	}
	v, err := reply.Uint16()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Ports lists the port letters the hub exposes, in hub order.
func (c *Client) Ports(ctx context.Context) ([]string, error) {
	reply, err := c.Query(ctx, QueryPortList, nil)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, r := range reply.Text() {
		if r == ',' || r == ' ' {
			continue
		}
		ports = append(ports, strings.ToUpper(string(r)))
	}
	return ports, nil
}

// PortDevice returns the device type ID on a port; ok is false when the
// port is empty.
func (c *Client) PortDevice(ctx context.Context, port string) (id uint16, ok bool, err error) {
	reply, err := c.Query(ctx, QueryPortDevice, []byte(port))
	if err != nil {
		if IsNoDevice(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	id, err = reply.Uint16()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// expectAck waits for the acknowledgement of one upload step.
func (c *Client) expectAck(ctx context.Context, request *Frame) error {
	response, err := c.Request(ctx, request)
	if err != nil {
		return err
	}
	switch response.Kind {
	case KindAck:
		return nil
	case KindReject:
		return &RejectedError{Kind: request.Kind, Reason: response.Text()}
	default:
		return fmt.Errorf("unexpected %s in reply to %s", response.Kind, request.Kind)
	}
}

// Upload transfers a compiled artifact in chunks; each step must be acked.
func (c *Client) Upload(ctx context.Context, artifact []byte, chunkSize int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	if err := c.expectAck(ctx, ProgramMetaRequest(0, uint32(len(artifact)))); err != nil {
		return err
	}

	for offset := 0; offset < len(artifact); offset += chunkSize {
		end := offset + chunkSize
		if end > len(artifact) {
			end = len(artifact)
		}
		if err := c.expectAck(ctx, ProgramChunkRequest(0, uint32(offset), artifact[offset:end])); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
	}
	return nil
}

// Start asks the hub to run the uploaded program and waits for the ack.
func (c *Client) Start(ctx context.Context) error {
	return c.expectAck(ctx, StartRequest(0))
}

// Stop asks the hub to stop the running program. It does not wait.
func (c *Client) Stop(ctx context.Context) error {
	return c.Send(ctx, StopRequest(0))
}
