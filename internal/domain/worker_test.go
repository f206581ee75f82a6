package domain

import (
	"testing"
	"time"
)

func testDecl() WorkerDeclaration {
	return WorkerDeclaration{
		Model:            "gpt-j-6b",
		MaxLength:        512,
		MaxContentLength: 2048,
		SoftPrompts:      []string{"alpine_adventures_v2"},
	}
}

func TestWorkerStaleness(t *testing.T) {
	now := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker("id-1", "rig-1", "oauth-1")
	if !w.IsStale(now, DefaultWorkerStaleAfter) {
		t.Fatalf("never checked in worker must be stale")
	}
	w.LastCheckIn = now.Add(-299 * time.Second)
	if w.IsStale(now, DefaultWorkerStaleAfter) {
		t.Errorf("299s since check-in should be live")
	}
	w.LastCheckIn = now.Add(-301 * time.Second)
	if !w.IsStale(now, DefaultWorkerStaleAfter) {
		t.Errorf("301s since check-in should be stale")
	}
}

func TestCheckInAccruesUptimeAndRewards(t *testing.T) {
	now := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker("id-1", "rig-1", "oauth-1")

	// First check-in takes the stale path: no uptime, reward clock reset.
	if grant := w.CheckIn(testDecl(), 2.75, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold); grant != 0 {
		t.Fatalf("first check-in must not grant, got %v", grant)
	}

	// Check in every 30s. Uptime crosses the 600s threshold at the 21st
	// check-in (uptime 630), which emits exactly one grant.
	var grants []float64
	for i := 1; i <= 21; i++ {
		now = now.Add(30 * time.Second)
		if g := w.CheckIn(testDecl(), 2.75, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold); g != 0 {
			grants = append(grants, g)
		}
	}
	if len(grants) != 1 || grants[0] != 1.0 {
		t.Fatalf("expected one grant of 1.0, got %v", grants)
	}
	if w.UptimeSeconds != 630 {
		t.Errorf("expected uptime 630, got %d", w.UptimeSeconds)
	}
	if w.LastRewardUptime != 630 {
		t.Errorf("expected reward clock at 630, got %d", w.LastRewardUptime)
	}
	if w.Kudos != 1.0 || w.KudosDetails[KudosUptime] != 1.0 {
		t.Errorf("expected uptime kudos 1.0, got balance %v details %v", w.Kudos, w.KudosDetails)
	}
}

func TestCheckInAfterStalenessGrantsNothingForGap(t *testing.T) {
	now := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker("id-1", "rig-1", "oauth-1")
	w.CheckIn(testDecl(), 6, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold)
	now = now.Add(30 * time.Second)
	w.CheckIn(testDecl(), 6, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold)
	if w.UptimeSeconds != 30 {
		t.Fatalf("expected 30s uptime, got %d", w.UptimeSeconds)
	}

	// Silent for an hour, then back. The gap counts for nothing and the
	// reward clock restarts from the current uptime.
	now = now.Add(1 * time.Hour)
	if g := w.CheckIn(testDecl(), 6, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold); g != 0 {
		t.Errorf("stale return must not grant, got %v", g)
	}
	if w.UptimeSeconds != 30 {
		t.Errorf("stale gap must not accrue uptime, got %d", w.UptimeSeconds)
	}
	if w.LastRewardUptime != 30 {
		t.Errorf("expected reward clock reset to 30, got %d", w.LastRewardUptime)
	}
}

func TestCheckInOverwritesCapabilities(t *testing.T) {
	now := time.Now()
	w := NewWorker("id-1", "rig-1", "oauth-1")
	w.CheckIn(testDecl(), 1, now, DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold)
	w.CheckIn(WorkerDeclaration{Model: "llama-13b", MaxLength: 100, MaxContentLength: 400}, 1,
		now.Add(time.Second), DefaultWorkerStaleAfter, DefaultUptimeRewardThreshold)
	if w.Model != "llama-13b" || w.MaxLength != 100 || w.MaxContentLength != 400 {
		t.Errorf("capabilities not overwritten: %+v", w)
	}
	if w.SoftPrompts != nil {
		t.Errorf("softprompts should follow the latest declaration, got %v", w.SoftPrompts)
	}
}

func TestCanGenerate(t *testing.T) {
	w := NewWorker("id-1", "rig-1", "oauth-1")
	w.Model = "gpt-j-6b"
	w.MaxLength = 512
	w.MaxContentLength = 2048
	w.SoftPrompts = []string{"alpine_adventures_v2", "noir_detective"}

	base := func() *WaitingPrompt {
		return &WaitingPrompt{
			MaxLength:        80,
			MaxContentLength: 1024,
			SoftPrompts:      []string{""},
		}
	}

	tests := []struct {
		name       string
		mutate     func(*WaitingPrompt)
		wantOK     bool
		wantSoft   string
		wantReason string
	}{
		{name: "unconstrained", mutate: func(*WaitingPrompt) {}, wantOK: true},
		{
			name:       "wrong server pin",
			mutate:     func(p *WaitingPrompt) { p.Servers = []string{"other-id"} },
			wantOK:     false,
			wantReason: SkipServerID,
		},
		{
			name:       "wrong model",
			mutate:     func(p *WaitingPrompt) { p.Models = []string{"llama-13b"} },
			wantOK:     false,
			wantReason: SkipModels,
		},
		{
			name:       "content length exceeds capability",
			mutate:     func(p *WaitingPrompt) { p.MaxContentLength = 4096 },
			wantOK:     false,
			wantReason: SkipMaxContentLength,
		},
		{
			name:       "gen length exceeds capability",
			mutate:     func(p *WaitingPrompt) { p.MaxLength = 1000 },
			wantOK:     false,
			wantReason: SkipMaxLength,
		},
		{
			name:     "softprompt substring match",
			mutate:   func(p *WaitingPrompt) { p.SoftPrompts = []string{"alpine"} },
			wantOK:   true,
			wantSoft: "alpine",
		},
		{
			name:       "softprompt no match",
			mutate:     func(p *WaitingPrompt) { p.SoftPrompts = []string{"cyberpunk"} },
			wantOK:     false,
			wantReason: SkipSoftPrompt,
		},
		{
			name: "last failing check wins",
			mutate: func(p *WaitingPrompt) {
				p.Models = []string{"llama-13b"}
				p.SoftPrompts = []string{"cyberpunk"}
			},
			wantOK:     false,
			wantReason: SkipSoftPrompt,
		},
		{
			name: "empty entry beats named miss",
			mutate: func(p *WaitingPrompt) {
				p.SoftPrompts = []string{"cyberpunk", ""}
			},
			wantOK:   true,
			wantSoft: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.mutate(p)
			ok, soft, reason := w.CanGenerate(p)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if soft != tc.wantSoft {
				t.Errorf("soft = %q, want %q", soft, tc.wantSoft)
			}
			if reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func TestRecordPerformanceWindow(t *testing.T) {
	w := NewWorker("id-1", "rig-1", "oauth-1")
	for i := 0; i < 25; i++ {
		w.RecordPerformance(float64(i))
	}
	if len(w.Performances) != MaxPerformances {
		t.Fatalf("expected %d retained, got %d", MaxPerformances, len(w.Performances))
	}
	if w.Performances[0] != 5 || w.Performances[19] != 24 {
		t.Errorf("expected oldest 5 newest 24, got %v", w.Performances)
	}
}

func TestAveragePerformance(t *testing.T) {
	w := NewWorker("id-1", "rig-1", "oauth-1")
	if got := w.AveragePerformance(); got != "No requests fulfilled yet" {
		t.Errorf("unexpected empty-window render: %q", got)
	}
	w.RecordPerformance(10)
	w.RecordPerformance(15)
	if got := w.AveragePerformance(); got != "12.5 chars per second" {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestHumanReadableUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{45, "45 seconds"},
		{90, "1.5 minutes"},
		{7200, "2 hours"},
		{259200, "3 days"},
	}
	w := NewWorker("id-1", "rig-1", "oauth-1")
	for _, tc := range tests {
		w.UptimeSeconds = tc.seconds
		if got := w.HumanReadableUptime(); got != tc.want {
			t.Errorf("uptime(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
