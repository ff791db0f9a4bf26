package claims

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCheckTransitionTable(t *testing.T) {
	legal := map[Status][]Status{
		StatusOpen:               {StatusValidationComplete, StatusNeedMoreInfo},
		StatusValidationComplete: {StatusVerified, StatusNeedMoreInfo},
		StatusVerified:           {StatusApproved, StatusDenied, StatusNeedMoreInfo},
		StatusNeedMoreInfo:       {StatusOpen, StatusValidationComplete, StatusVerified},
		StatusApproved:           nil,
		StatusDenied:             nil,
	}
	for _, from := range allStatuses {
		allowed := map[Status]bool{}
		for _, to := range legal[from] {
			allowed[to] = true
		}
		for _, to := range allStatuses {
			err := CheckTransition(from, to, false)
			if allowed[to] && err != nil {
				t.Fatalf("%s -> %s should be allowed: %v", from, to, err)
			}
			if !allowed[to] && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s should be invalid, got %v", from, to, err)
			}
		}
	}
}

func TestCheckTransitionAIOnlyOneEdge(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := CheckTransition(from, to, true)
			if from == StatusOpen && to == StatusValidationComplete {
				if err != nil {
					t.Fatalf("ai edge rejected: %v", err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("ai %s -> %s should be rejected, got %v", from, to, err)
			}
		}
	}
}

func TestAllowedTargets(t *testing.T) {
	got := AllowedTargets(StatusVerified)
	want := []Status{StatusApproved, StatusDenied, StatusNeedMoreInfo}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("targets=%v", got)
	}
	if len(AllowedTargets(StatusApproved)) != 0 {
		t.Fatal("terminal states have no targets")
	}
}

func TestValidateWalk(t *testing.T) {
	base := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	good := []StatusTransition{
		{FromStatus: StatusOpen, ToStatus: StatusValidationComplete, AISuggested: true, CreatedAt: base},
		{FromStatus: StatusValidationComplete, ToStatus: StatusVerified, CreatedAt: base.Add(time.Second)},
		{FromStatus: StatusVerified, ToStatus: StatusApproved, CreatedAt: base.Add(2 * time.Second)},
	}
	if err := ValidateWalk(good); err != nil {
		t.Fatalf("valid walk rejected: %v", err)
	}
	broken := []StatusTransition{
		{FromStatus: StatusOpen, ToStatus: StatusNeedMoreInfo, CreatedAt: base},
		{FromStatus: StatusOpen, ToStatus: StatusValidationComplete, CreatedAt: base.Add(time.Second)},
	}
	if err := ValidateWalk(broken); err == nil {
		t.Fatal("expected broken walk to fail")
	}
	sameTime := []StatusTransition{
		{FromStatus: StatusOpen, ToStatus: StatusNeedMoreInfo, CreatedAt: base},
		{FromStatus: StatusNeedMoreInfo, ToStatus: StatusOpen, CreatedAt: base},
	}
	if err := ValidateWalk(sameTime); err == nil {
		t.Fatal("expected non-increasing timestamps to fail")
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" Need_More_Info "); !ok || s != StatusNeedMoreInfo {
		t.Fatalf("got %q %v", s, ok)
	}
	if _, ok := ParseStatus("closed"); ok {
		t.Fatal("unknown status accepted")
	}
}
