package protocol

import (
	"context"
	"fmt"
	"net"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Sends one frame per connection and reads the reply.
type Client struct {
	Address      string
	Timeout      time.Duration
	MaxFrameSize uint32
}

func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: DefaultTimeout,
	}
}

// Send a frame and return the reply frame.
func (c *Client) Request(ctx context.Context, frame *Frame) (*Frame, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Unblock reads and writes on cancellation
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(conn, frame); err != nil {
		return nil, err
	}

	reply, err := ReadFrame(conn, c.MaxFrameSize)
	if err != nil {
		return nil, err
	}

	if !reply.Signal.IsReply() {
		return nil, fmt.Errorf("%w: expected reply, got %s", ErrUnknownSignal, reply.Signal)
	}
	return reply, nil
}

// Send a request document and decode the ACK body into body, if not nil.
// A NACK is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, signal Signal, request, body any) error {
	frame, err := NewFrame(signal, request)
	if err != nil {
		return err
	}

	response, err := c.Request(ctx, frame)
	if err != nil {
		return err
	}

	reply := &Reply{}
	if err := response.Decode(reply); err != nil {
		return err
	}

	if response.Signal == Nack {
		return &RemoteError{Code: reply.Code, Reason: reply.Reason}
	}

	if body != nil && len(reply.Body) > 0 {
		return (&Frame{Signal: signal, Payload: reply.Body}).Decode(body)
	}
	return nil
}
