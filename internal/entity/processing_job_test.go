package entity

import (
	"math/rand"
	"testing"

	"github.com/curateapp/curate/constants"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		stages map[string]constants.StageStatus
		want   constants.JobStatus
	}{
		{
			name: "all pending",
			stages: map[string]constants.StageStatus{
				"extract": constants.StagePending,
				"persist": constants.StagePending,
			},
			want: constants.JobStatusProcessing,
		},
		{
			name: "partially completed",
			stages: map[string]constants.StageStatus{
				"extract": constants.StageCompleted,
				"persist": constants.StageProcessing,
			},
			want: constants.JobStatusProcessing,
		},
		{
			name: "all completed",
			stages: map[string]constants.StageStatus{
				"extract": constants.StageCompleted,
				"persist": constants.StageCompleted,
			},
			want: constants.JobStatusCompleted,
		},
		{
			name: "one failed trumps completion",
			stages: map[string]constants.StageStatus{
				"extract": constants.StageCompleted,
				"persist": constants.StageCompleted,
				"pdf":     constants.StageFailed,
				"tags":    constants.StageCompleted,
			},
			want: constants.JobStatusFailed,
		},
		{
			name: "failed while another stage still running",
			stages: map[string]constants.StageStatus{
				"extract": constants.StageFailed,
				"persist": constants.StageProcessing,
			},
			want: constants.JobStatusFailed,
		},
		{
			name:   "empty stage set never completes",
			stages: map[string]constants.StageStatus{},
			want:   constants.JobStatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.stages); got != tt.want {
				t.Errorf("DeriveStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDeriveStatusRandomized walks a stage map through random single
// transitions and checks the three derivation properties after each one.
func TestDeriveStatusRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	names := []string{"extract", "persist", "pdf", "tags"}
	statuses := []constants.StageStatus{
		constants.StagePending, constants.StageProcessing,
		constants.StageCompleted, constants.StageFailed,
	}

	stages := make(map[string]constants.StageStatus, len(names))
	for _, n := range names {
		stages[n] = constants.StagePending
	}

	for step := 0; step < 1000; step++ {
		stages[names[rng.Intn(len(names))]] = statuses[rng.Intn(len(statuses))]
		got := DeriveStatus(stages)

		anyFailed, allCompleted := false, true
		for _, st := range stages {
			if st == constants.StageFailed {
				anyFailed = true
			}
			if st != constants.StageCompleted {
				allCompleted = false
			}
		}
		switch {
		case anyFailed:
			if got != constants.JobStatusFailed {
				t.Fatalf("step %d: %v with a failed stage in %v", step, got, stages)
			}
		case allCompleted:
			if got != constants.JobStatusCompleted {
				t.Fatalf("step %d: %v with all stages completed in %v", step, got, stages)
			}
		default:
			if got != constants.JobStatusProcessing {
				t.Fatalf("step %d: %v for in-flight stages %v", step, got, stages)
			}
		}
	}
}
