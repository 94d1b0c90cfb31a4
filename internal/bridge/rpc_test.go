package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr/testr"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		log:         testr.New(t),
		coordinator: testCoordinator(t, nil),
	}
}

func TestValidateDialog(t *testing.T) {
	ok := Dialog{Id: "1", Src: "homgarctl42", Dst: HOMGAR}
	if err := ValidateDialog(ok); err != nil {
		t.Errorf("ValidateDialog failed: %v", err)
	}
	for _, d := range []Dialog{
		{Src: "a", Dst: "b"},
		{Id: "1", Dst: "b"},
		{Id: "1", Src: "a"},
	} {
		if err := ValidateDialog(d); err == nil {
			t.Errorf("expected error for dialog %+v", d)
		}
	}
}

func TestDispatchDeviceList(t *testing.T) {
	s := testServer(t)
	result, err := s.dispatch(context.Background(), &request{Method: DeviceList})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	summaries, ok := result.([]DeviceSummary)
	if !ok {
		t.Fatalf("result is %T, want []DeviceSummary", result)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}
	found := false
	for _, s := range summaries {
		if s.UniqueID == "555_4" && s.Name == "Garden Timer" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing water timer in %+v", summaries)
	}
}

func TestDispatchDeviceShow(t *testing.T) {
	s := testServer(t)

	params, _ := json.Marshal(DeviceRef{Device: "Garden Timer"})
	result, err := s.dispatch(context.Background(), &request{Method: DeviceShow, Params: params})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	detail, ok := result.(*DeviceDetail)
	if !ok {
		t.Fatalf("result is %T, want *DeviceDetail", result)
	}
	if detail.UniqueID != "555_4" {
		t.Errorf("unique id = %q", detail.UniqueID)
	}
	// 3 zones with 3 sensors and a switch each.
	if len(detail.Entities) != 12 {
		t.Errorf("got %d entities, want 12", len(detail.Entities))
	}

	params, _ = json.Marshal(DeviceRef{Device: "no-such-device"})
	if _, err := s.dispatch(context.Background(), &request{Method: DeviceShow, Params: params}); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestDispatchIrrigationErrors(t *testing.T) {
	s := testServer(t)

	params, _ := json.Marshal(IrrigationParams{Device: "555_4", Zone: 9})
	if _, err := s.dispatch(context.Background(), &request{Method: IrrigationStart, Params: params}); err == nil {
		t.Error("expected error for invalid zone")
	}

	params, _ = json.Marshal(IrrigationParams{Device: "555_4", Zone: 1, Duration: 9000})
	if _, err := s.dispatch(context.Background(), &request{Method: IrrigationStart, Params: params}); err == nil {
		t.Error("expected error for out-of-range duration")
	}

	if _, err := s.dispatch(context.Background(), &request{Method: Verb("bogus")}); err == nil {
		t.Error("expected error for unknown method")
	}
}
