package cmd

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

func monitorMachine() config.Machine {
	return config.Machine{
		Info:     config.Info{Name: "press-1"},
		Settings: config.DefaultSettings(),
		Variables: []config.Variable{
			{Variable: arburg.Variable{Name: "connected"}, MachineConnected: true},
			{Variable: arburg.Variable{Name: "shots", Format: arburg.FormatUint32}, Access: config.AccessRead},
			{Variable: arburg.Variable{Name: "setpoint", Format: arburg.FormatFloat}, Access: config.AccessWrite},
		},
	}
}

// ============================================================
// Monitor model
// ============================================================

func TestMonitorModel_Rows(t *testing.T) {
	m := initialMonitorModel(monitorMachine(), "Demo", nil)

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (write-only variables hidden), got %d", len(rows))
	}
	if rows[1][0] != "shots" || rows[1][1] != "-" {
		t.Errorf("expected empty shots row, got %v", rows[1])
	}

	updated, _ := m.Update(valueMsg{name: "shots", value: uint32(42), at: time.Now()})
	m = updated.(monitorModel)

	rows = m.table.Rows()
	if rows[1][1] != "42" {
		t.Errorf("expected shots value 42, got %q", rows[1][1])
	}
}

func TestMonitorModel_Alerts(t *testing.T) {
	m := initialMonitorModel(monitorMachine(), "Demo", nil)
	a := alert.Alert{Key: "request-error", Message: "Arburg: Error Sending Request", Description: "timeout"}

	updated, _ := m.Update(alertMsg{alert: a, active: true})
	m = updated.(monitorModel)
	if len(m.alerts) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(m.alerts))
	}
	if !strings.Contains(m.View(), "Arburg: Error Sending Request") {
		t.Error("expected alert message in view")
	}

	updated, _ = m.Update(alertMsg{alert: a, active: false})
	m = updated.(monitorModel)
	if len(m.alerts) != 0 {
		t.Errorf("expected alert cleared, got %d", len(m.alerts))
	}
	if len(m.eventLog) != 2 {
		t.Errorf("expected 2 log entries, got %d", len(m.eventLog))
	}
}

// ============================================================
// Demo machine
// ============================================================

func TestDemoCell_Response(t *testing.T) {
	cell := &demoCell{}

	for i := uint16(1); i <= 3; i++ {
		msg := cell.respond(arburg.NewStatusRequest(i))
		status, err := arburg.DecodeStatus(msg, i)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		shots := binary.LittleEndian.Uint32(status.BaseStatus[12:])
		if shots != uint32(i) {
			t.Errorf("expected shot counter %d, got %d", i, shots)
		}
		if status.Cylinder1 == nil || status.Automation == nil {
			t.Error("expected cylinder and automation blocks")
		}
	}

	if cell.respond([]byte{0x1F}) != nil {
		t.Error("expected no response to a truncated request")
	}
}
