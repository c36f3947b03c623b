package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 10},
		{"default bucket size for negative", -1, 10},
		{"custom bucket size", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "downloading") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSampler_StageChange(t *testing.T) {
	s := NewProgressSampler(10)

	if !s.ShouldLog(0, "downloading") {
		t.Error("first stage should log")
	}
	if s.ShouldLog(3, "downloading") {
		t.Error("same stage and bucket should not log again")
	}
	if !s.ShouldLog(3, "converting") {
		t.Error("stage change should log")
	}
	if s.lastStage != "converting" {
		t.Errorf("lastStage = %q, want converting", s.lastStage)
	}
}

func TestProgressSampler_Buckets(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog(0, "downloading")

	want := []struct {
		percent float64
		emit    bool
	}{
		{9.9, false},
		{10, true},
		{15, false},
		{35, true},
		{20, false},
		{120, true},
		{100, false},
	}
	for _, w := range want {
		if got := s.ShouldLog(w.percent, "downloading"); got != w.emit {
			t.Fatalf("ShouldLog(%v) = %v, want %v", w.percent, got, w.emit)
		}
	}
}

func TestProgressSampler_UnknownPercent(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog(-1, "converting") {
		t.Error("stage change with unknown percent should log")
	}
	if s.ShouldLog(-1, "converting") {
		t.Error("unknown percent without stage change should not log")
	}
	s.Reset()
	if s.lastStage != "" || s.lastBucket != -1 {
		t.Errorf("Reset left state %q/%d", s.lastStage, s.lastBucket)
	}
}
