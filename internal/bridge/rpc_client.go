package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/homgar/bridge/internal/hostmqtt"
)

// TheClient is the process-wide RPC client, set up by the command line.
var TheClient *Client

type Client struct {
	log     logr.Logger
	mc      *hostmqtt.Client
	from    chan hostmqtt.Message
	timeout time.Duration
}

// Host exposes the underlying broker connection.
func (hc *Client) Host() *hostmqtt.Client {
	return hc.mc
}

// NewClientE prepares an RPC client talking to the daemon over the home
// broker.
func NewClientE(log logr.Logger, mc *hostmqtt.Client, timeout time.Duration) (*Client, error) {
	from, err := mc.Subscribe(ClientTopic(mc.Id), 1)
	if err != nil {
		log.Error(err, "Failed to subscribe to client topic", "topic", ClientTopic(mc.Id))
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		log:     log.WithName("RpcClient"),
		mc:      mc,
		from:    from,
		timeout: timeout,
	}, nil
}

func (hc *Client) Shutdown() {
	hc.mc.Unsubscribe(ClientTopic(hc.mc.Id))
}

// CallE sends one request and waits for the matching response. The result
// is decoded into out when out is non-nil.
func (hc *Client) CallE(ctx context.Context, method Verb, params any, out any) error {
	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}

	req := request{
		Dialog: Dialog{
			Id:  uuid.NewString(),
			Src: hc.mc.Id,
			Dst: HOMGAR,
		},
		Method: method,
		Params: rawParams,
	}
	reqStr, err := json.Marshal(req)
	if err != nil {
		return err
	}

	hc.log.Info("Calling method", "method", method, "params", params)
	if err := hc.mc.PublishTransient(ServerTopic(), reqStr); err != nil {
		return err
	}

	deadline := time.NewTimer(hc.timeout)
	defer deadline.Stop()

	for {
		var resStr []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for response to method %s (%v)", method, hc.timeout)
		case msg, ok := <-hc.from:
			if !ok {
				return fmt.Errorf("response channel closed")
			}
			resStr = msg.Payload
		}

		var res response
		if err := json.Unmarshal(resStr, &res); err != nil {
			hc.log.Error(err, "Failed to unmarshal response", "payload", string(resStr))
			return err
		}
		if res.Id != req.Id {
			// Stale reply to an earlier call.
			continue
		}
		if res.Error != nil {
			return fmt.Errorf("%v (code:%v)", res.Error.Message, res.Error.Code)
		}
		if out == nil {
			return nil
		}
		rs, err := json.Marshal(res.Result)
		if err != nil {
			return err
		}
		return json.Unmarshal(rs, out)
	}
}
