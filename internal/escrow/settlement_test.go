package escrow

import (
	"errors"
	"testing"
)

func record(gross int64, feePercent int, firmID string) *Record {
	return &Record{
		ID:                 "esc_test",
		GrossAmount:        gross,
		PlatformFeePercent: feePercent,
		FirmID:             firmID,
	}
}

func TestComputeDistribution_IndividualFullRelease(t *testing.T) {
	d, err := ComputeDistribution(record(10000, 10, ""), 50, nil)
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if d.PlatformAmount != 1000 {
		t.Errorf("platform = %d, want 1000", d.PlatformAmount)
	}
	if d.ProfessionalAmount != 9000 {
		t.Errorf("professional = %d, want 9000", d.ProfessionalAmount)
	}
	if d.FirmPoolAmount != 0 || d.RefundAmount != 0 {
		t.Errorf("firm = %d, refund = %d, want 0, 0", d.FirmPoolAmount, d.RefundAmount)
	}
	if d.Basis != BasisRelease {
		t.Errorf("basis = %s, want %s", d.Basis, BasisRelease)
	}
}

func TestComputeDistribution_FirmCommissionSplit(t *testing.T) {
	d, err := ComputeDistribution(record(10000, 15, "firm_1"), 30, nil)
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if d.PlatformAmount != 1500 {
		t.Errorf("platform = %d, want 1500", d.PlatformAmount)
	}
	// pool 8500, member keeps floor(8500*0.30)=2550, remainder to firm
	if d.ProfessionalAmount != 2550 {
		t.Errorf("professional = %d, want 2550", d.ProfessionalAmount)
	}
	if d.FirmPoolAmount != 5950 {
		t.Errorf("firm = %d, want 5950", d.FirmPoolAmount)
	}
}

func TestComputeDistribution_FavorClient(t *testing.T) {
	d, err := ComputeDistribution(record(10000, 10, ""), 50, &Outcome{Resolution: ResolutionFavorClient})
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if d.RefundAmount != 10000 {
		t.Errorf("refund = %d, want 10000", d.RefundAmount)
	}
	if d.PlatformAmount != 0 || d.ProfessionalAmount != 0 || d.FirmPoolAmount != 0 {
		t.Error("favor-client must zero all non-refund legs")
	}
	if d.FinalStatus() != StatusRefunded {
		t.Errorf("final status = %s, want %s", d.FinalStatus(), StatusRefunded)
	}
}

func TestComputeDistribution_FavorProfessionalMatchesRelease(t *testing.T) {
	release, _ := ComputeDistribution(record(10000, 15, "firm_1"), 30, nil)
	resolved, err := ComputeDistribution(record(10000, 15, "firm_1"), 30, &Outcome{Resolution: ResolutionFavorProfessional})
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if resolved.PlatformAmount != release.PlatformAmount ||
		resolved.ProfessionalAmount != release.ProfessionalAmount ||
		resolved.FirmPoolAmount != release.FirmPoolAmount {
		t.Errorf("favor-professional %+v differs from full release %+v", resolved, release)
	}
}

func TestComputeDistribution_Split40(t *testing.T) {
	d, err := ComputeDistribution(record(10000, 10, ""), 50, &Outcome{Resolution: ResolutionSplit, RefundPercent: 40})
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if d.RefundAmount != 4000 {
		t.Errorf("refund = %d, want 4000", d.RefundAmount)
	}
	// remaining 6000 settles as a release: fee 600, professional 5400
	if d.PlatformAmount != 600 {
		t.Errorf("platform = %d, want 600", d.PlatformAmount)
	}
	if d.ProfessionalAmount != 5400 {
		t.Errorf("professional = %d, want 5400", d.ProfessionalAmount)
	}
	if d.FinalStatus() != StatusReleased {
		t.Errorf("final status = %s, want %s", d.FinalStatus(), StatusReleased)
	}
}

func TestComputeDistribution_Split100DegeneratesToRefund(t *testing.T) {
	d, err := ComputeDistribution(record(10000, 10, ""), 50, &Outcome{Resolution: ResolutionSplit, RefundPercent: 100})
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}

	if d.RefundAmount != 10000 {
		t.Errorf("refund = %d, want 10000", d.RefundAmount)
	}
	if d.FinalStatus() != StatusRefunded {
		t.Errorf("final status = %s, want %s", d.FinalStatus(), StatusRefunded)
	}
}

func TestComputeDistribution_Conservation(t *testing.T) {
	cases := []struct {
		name       string
		gross      int64
		fee        int
		firmID     string
		commission int
		outcome    *Outcome
	}{
		{"zero fee", 9999, 0, "", 50, nil},
		{"full fee", 9999, 100, "", 50, nil},
		{"firm zero commission", 10001, 15, "firm_1", 0, nil},
		{"firm full commission", 10001, 15, "firm_1", 100, nil},
		{"odd amounts", 7, 33, "firm_1", 33, nil},
		{"split odd percent", 10001, 13, "firm_1", 37, &Outcome{Resolution: ResolutionSplit, RefundPercent: 33}},
		{"split zero percent", 10000, 10, "", 50, &Outcome{Resolution: ResolutionSplit, RefundPercent: 0}},
		{"split full percent", 10000, 10, "", 50, &Outcome{Resolution: ResolutionSplit, RefundPercent: 100}},
		{"one unit", 1, 10, "firm_1", 30, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ComputeDistribution(record(tc.gross, tc.fee, tc.firmID), tc.commission, tc.outcome)
			if err != nil {
				t.Fatalf("ComputeDistribution: %v", err)
			}
			if d.Total() != tc.gross {
				t.Errorf("total %d != gross %d (%+v)", d.Total(), tc.gross, d)
			}
			if d.PlatformAmount < 0 || d.ProfessionalAmount < 0 || d.FirmPoolAmount < 0 || d.RefundAmount < 0 {
				t.Errorf("negative leg in %+v", d)
			}
		})
	}
}

func TestComputeDistribution_RemainderGoesToPlatform(t *testing.T) {
	// 9999 * 10% = 999.9 → platform floors to 999, professional gets 9000.
	d, err := ComputeDistribution(record(9999, 10, ""), 50, nil)
	if err != nil {
		t.Fatalf("ComputeDistribution: %v", err)
	}
	if d.PlatformAmount != 999 {
		t.Errorf("platform = %d, want 999", d.PlatformAmount)
	}
	if d.ProfessionalAmount != 9000 {
		t.Errorf("professional = %d, want 9000", d.ProfessionalAmount)
	}
}

func TestComputeDistribution_InvalidInputs(t *testing.T) {
	if _, err := ComputeDistribution(record(0, 10, ""), 50, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero gross: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := ComputeDistribution(record(-5, 10, ""), 50, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative gross: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := ComputeDistribution(record(100, 10, ""), 50, &Outcome{Resolution: ResolutionSplit, RefundPercent: 101}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("refund percent 101: err = %v, want ErrInvalidState", err)
	}
	if _, err := ComputeDistribution(record(100, 10, ""), 50, &Outcome{Resolution: "COIN_FLIP"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("unknown resolution: err = %v, want ErrInvalidState", err)
	}
}
