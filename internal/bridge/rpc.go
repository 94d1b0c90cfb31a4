package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/homgar/bridge/internal/hostmqtt"
	"github.com/homgar/bridge/pkg/homgar"
)

// HOMGAR is the RPC service identity on the home broker.
const HOMGAR string = "homgar"

type Verb string

const (
	DeviceList      Verb = "device.list"
	DeviceShow      Verb = "device.show"
	IrrigationStart Verb = "irrigation.start"
	IrrigationStop  Verb = "irrigation.stop"
)

func ServerTopic() string {
	return fmt.Sprintf("%s/rpc", HOMGAR)
}

func ClientTopic(clientId string) string {
	return fmt.Sprintf("%s/rpc", clientId)
}

type Dialog struct {
	Id  string `json:"id"`
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type request struct {
	Dialog
	Method Verb            `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Dialog
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

func ValidateDialog(d Dialog) error {
	if d.Id == "" {
		return fmt.Errorf("invalid dialog: id=%v", d.Id)
	}
	if d.Src == "" {
		return fmt.Errorf("invalid dialog: src=%v", d.Src)
	}
	if d.Dst == "" {
		return fmt.Errorf("invalid dialog: dst=%v", d.Dst)
	}
	return nil
}

// DeviceSummary is the device.list result element.
type DeviceSummary struct {
	UniqueID  string `json:"unique_id" yaml:"unique_id"`
	MID       string `json:"mid" yaml:"mid"`
	Address   int    `json:"addr" yaml:"addr"`
	Model     string `json:"model" yaml:"model"`
	ModelCode int    `json:"model_code" yaml:"model_code"`
	Name      string `json:"name" yaml:"name"`
}

// DeviceDetail is the device.show result.
type DeviceDetail struct {
	DeviceSummary `yaml:",inline"`
	Description   string   `json:"description" yaml:"description"`
	Entities      []Entity `json:"entities" yaml:"entities"`
}

// DeviceRef names the device a command targets.
type DeviceRef struct {
	Device string `json:"device"`
}

// IrrigationParams names a zone of a water timer; duration is in seconds
// and only meaningful for irrigation.start.
type IrrigationParams struct {
	Device   string `json:"device"`
	Zone     int    `json:"zone"`
	Duration int    `json:"duration,omitempty"`
}

// IrrigationResult echoes the accepted command.
type IrrigationResult struct {
	Device   string `json:"device" yaml:"device"`
	Zone     int    `json:"zone" yaml:"zone"`
	Duration int    `json:"duration,omitempty" yaml:"duration,omitempty"`
	Status   string `json:"status" yaml:"status"`
}

type Server struct {
	log         logr.Logger
	mc          *hostmqtt.Client
	coordinator *Coordinator
	cancel      context.CancelFunc
}

// NewServerE starts answering RPC requests on the home broker.
func NewServerE(ctx context.Context, log logr.Logger, mc *hostmqtt.Client, coordinator *Coordinator) (*Server, error) {
	sctx, cancel := context.WithCancel(ctx)
	from, err := mc.Subscribe(ServerTopic(), 1)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Server{
		log:         log.WithName("RpcServer"),
		mc:          mc,
		coordinator: coordinator,
		cancel:      cancel,
	}

	go func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Cancelled")
				return
			case inMsg, ok := <-from:
				if !ok {
					return
				}
				s.handle(ctx, inMsg.Payload)
			}
		}
	}(sctx)

	s.log.Info("Server running", "topic", ServerTopic())
	return s, nil
}

func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Error(err, "Failed to unmarshal request", "payload", string(payload))
		return
	}
	if err := ValidateDialog(req.Dialog); err != nil {
		s.fail(1, err, &req)
		return
	}

	s.log.Info("Received request", "method", req.Method, "src", req.Src)

	result, err := s.dispatch(ctx, &req)
	if err != nil {
		s.fail(1, err, &req)
		return
	}
	s.reply(&req, response{Result: result})
}

func (s *Server) dispatch(ctx context.Context, req *request) (any, error) {
	switch req.Method {
	case DeviceList:
		return s.deviceList(), nil

	case DeviceShow:
		var params DeviceRef
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", req.Method, err)
		}
		return s.deviceShow(params.Device)

	case IrrigationStart:
		var params IrrigationParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", req.Method, err)
		}
		duration := params.Duration
		if duration == 0 {
			duration = DefaultDuration
		}
		if err := s.coordinator.StartIrrigation(ctx, params.Device, params.Zone, duration); err != nil {
			return nil, err
		}
		return &IrrigationResult{Device: params.Device, Zone: params.Zone, Duration: duration, Status: "started"}, nil

	case IrrigationStop:
		var params IrrigationParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", req.Method, err)
		}
		if err := s.coordinator.StopIrrigation(ctx, params.Device, params.Zone); err != nil {
			return nil, err
		}
		return &IrrigationResult{Device: params.Device, Zone: params.Zone, Status: "stopped"}, nil
	}
	return nil, fmt.Errorf("unknown method %s", req.Method)
}

func (s *Server) deviceList() []DeviceSummary {
	devices := s.coordinator.Devices()
	summaries := make([]DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		summaries = append(summaries, summarize(dev))
	}
	return summaries
}

func (s *Server) deviceShow(ref string) (*DeviceDetail, error) {
	dev, description, entities, err := s.coordinator.DescribeDevice(ref)
	if err != nil {
		return nil, err
	}
	return &DeviceDetail{
		DeviceSummary: summarize(dev),
		Description:   description,
		Entities:      entities,
	}, nil
}

func summarize(dev homgar.Device) DeviceSummary {
	info := dev.Info()
	return DeviceSummary{
		UniqueID:  fmt.Sprintf("%s_%d", info.MID, info.Address),
		MID:       info.MID,
		Address:   info.Address,
		Model:     info.Model,
		ModelCode: info.ModelCode,
		Name:      info.Name,
	}
}

func (s *Server) reply(req *request, res response) {
	res.Dialog = Dialog{
		Id:  req.Id,
		Src: s.mc.Id,
		Dst: req.Src,
	}
	outMsg, err := json.Marshal(res)
	if err != nil {
		s.log.Error(err, "Failed to marshal response")
		return
	}
	if err := s.mc.PublishTransient(ClientTopic(req.Src), outMsg); err != nil {
		s.log.Error(err, "Failed to publish response", "topic", ClientTopic(req.Src))
	}
}

func (s *Server) fail(code int, err error, req *request) {
	s.log.Error(err, "Request failed", "method", req.Method, "src", req.Src)
	s.reply(req, response{Error: &Error{Code: code, Message: err.Error()}})
}
