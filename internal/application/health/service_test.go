package health

import (
	"context"
	"errors"
	"testing"
	"time"

	corehealth "3tcapital/ecfcore/internal/core/health"
)

var testMeta = Metadata{
	Service:     "ecfcore",
	Version:     "1.0.0",
	Environment: "test",
}

func TestNewService(t *testing.T) {
	service := NewService(testMeta)

	if service.meta != testMeta {
		t.Error("expected service to have the provided metadata")
	}
	if service.startedAt.IsZero() {
		t.Error("expected startedAt to be set")
	}
}

func TestService_Status_NoProbes(t *testing.T) {
	service := NewService(testMeta)
	time.Sleep(10 * time.Millisecond)

	status := service.Status(context.Background())

	if status.Service != testMeta.Service || status.Version != testMeta.Version || status.Environment != testMeta.Environment {
		t.Errorf("unexpected metadata %+v", status)
	}
	if status.Status != corehealth.StatusUp {
		t.Errorf("expected status UP, got %q", status.Status)
	}
	if !status.StartedAt.Equal(service.startedAt) {
		t.Error("expected startedAt to match service start time")
	}
	if status.Uptime == "" || status.UptimeSecs < 0 {
		t.Errorf("unexpected uptime %q %d", status.Uptime, status.UptimeSecs)
	}
	if len(status.Checks) != 0 {
		t.Errorf("expected no checks, got %v", status.Checks)
	}
}

func TestService_Status_Probes(t *testing.T) {
	up := ProbeFunc(func(context.Context) error { return nil })
	down := ProbeFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		configure  func(s *Service)
		wantStatus string
		wantDown   []string
	}{
		{
			name: "all reachable",
			configure: func(s *Service) {
				s.WithProbe("database", up, true).WithProbe("dgii", up, false)
			},
			wantStatus: corehealth.StatusUp,
		},
		{
			name: "optional dependency down",
			configure: func(s *Service) {
				s.WithProbe("database", up, true).WithProbe("dgii", down, false)
			},
			wantStatus: corehealth.StatusDegraded,
			wantDown:   []string{"dgii"},
		},
		{
			name: "database down",
			configure: func(s *Service) {
				s.WithProbe("database", down, true).WithProbe("dgii", down, false)
			},
			wantStatus: corehealth.StatusDown,
			wantDown:   []string{"database", "dgii"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewService(testMeta)
			tt.configure(service)

			status := service.Status(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, status.Status)
			}

			var gotDown []string
			for _, c := range status.Checks {
				if c.Status == corehealth.StatusDown {
					gotDown = append(gotDown, c.Name)
					if c.Error == "" {
						t.Errorf("check %s is down without an error", c.Name)
					}
				}
			}
			if len(gotDown) != len(tt.wantDown) {
				t.Fatalf("expected down %v, got %v", tt.wantDown, gotDown)
			}
			for i := range gotDown {
				if gotDown[i] != tt.wantDown[i] {
					t.Errorf("expected down %v, got %v", tt.wantDown, gotDown)
				}
			}
		})
	}
}

func TestService_Status_ProbeTimeout(t *testing.T) {
	var deadline time.Time
	service := NewService(testMeta).WithProbe("database", ProbeFunc(func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}), true)

	service.Status(context.Background())
	if deadline.IsZero() || time.Until(deadline) > probeTimeout {
		t.Errorf("expected a probe deadline within %v, got %v", probeTimeout, deadline)
	}
}
