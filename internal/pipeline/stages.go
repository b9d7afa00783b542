package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Builtin returns the six built-in simulation stages in execution order.
// They apply cheap deterministic heuristics so simulation runs produce
// plausible tasks, gates, and payloads without any external calls.
func Builtin() []Stage {
	return []Stage{
		discoveryStage{},
		qualificationStage{},
		personalizationStage{},
		validationStage{},
		outreachPrepStage{},
		followUpStage{},
	}
}

type discoveryStage struct{}

func (discoveryStage) Name() string { return StageDiscovery }

func (discoveryStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	if in.FirmWebsite == "" {
		return &Result{
			Confidence: 0.2,
			Summary:    fmt.Sprintf("no website on record for %s", in.FirmName),
			Output:     map[string]any{"form_url": ""},
		}, nil
	}
	formURL := strings.TrimRight(in.FirmWebsite, "/") + "/contact"
	return &Result{
		Confidence: 0.9,
		Summary:    fmt.Sprintf("candidate contact form at %s", formURL),
		Output:     map[string]any{"form_url": formURL},
	}, nil
}

type qualificationStage struct{}

func (qualificationStage) Name() string { return StageQualification }

func (qualificationStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	var reasons []string
	if in.FirmWebsite == "" {
		reasons = append(reasons, "no website")
	}
	if formURL, _ := in.Prior[StageDiscovery]["form_url"].(string); formURL == "" {
		reasons = append(reasons, "no contact form discovered")
	}

	if len(reasons) > 0 {
		return &Result{
			Confidence: 0.3,
			Summary:    fmt.Sprintf("%s not recommended: %s", in.FirmName, strings.Join(reasons, "; ")),
			Output:     map[string]any{"recommended": false, "reason": strings.Join(reasons, "; ")},
		}, nil
	}
	return &Result{
		Confidence: 0.8,
		Summary:    fmt.Sprintf("%s looks reachable", in.FirmName),
		Output:     map[string]any{"recommended": true},
	}, nil
}

type personalizationStage struct{}

func (personalizationStage) Name() string { return StagePersonalization }

func (personalizationStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	greeting := "Hello"
	if in.ContactName != "" {
		greeting = "Hi " + in.ContactName
	}
	line := fmt.Sprintf("%s, %s is raising %s: %s", greeting, in.Sender.CompanyName, in.Sender.RaiseAmount, in.Sender.PitchSummary)
	return &Result{
		Confidence: 0.7,
		Summary:    "opening line drafted",
		Output:     map[string]any{"opening_line": line},
	}, nil
}

type validationStage struct{}

func (validationStage) Name() string { return StageValidation }

func (validationStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	var issues []string
	if in.Sender.ContactEmail == "" {
		issues = append(issues, "sender contact email missing")
	}
	if in.Sender.CompanyName == "" {
		issues = append(issues, "sender company name missing")
	}
	if line, _ := in.Prior[StagePersonalization]["opening_line"].(string); line == "" {
		issues = append(issues, "no opening line")
	}

	if len(issues) > 0 {
		return &Result{
			Confidence: 0.2,
			Summary:    "payload failed QA: " + strings.Join(issues, "; "),
			Output:     map[string]any{"can_proceed": false, "issues": issues},
		}, nil
	}
	return &Result{
		Confidence: 0.95,
		Summary:    "payload passed QA",
		Output:     map[string]any{"can_proceed": true},
	}, nil
}

type outreachPrepStage struct{}

func (outreachPrepStage) Name() string { return StageOutreachPrep }

func (outreachPrepStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	return &Result{
		Confidence: 0.85,
		Summary:    fmt.Sprintf("submission prepared for %s", in.FirmName),
		Output: map[string]any{
			"contact_name":  in.Sender.ContactName,
			"contact_email": in.Sender.ContactEmail,
			"company_name":  in.Sender.CompanyName,
			"raise_amount":  in.Sender.RaiseAmount,
		},
	}, nil
}

type followUpStage struct{}

func (followUpStage) Name() string { return StageFollowUp }

// followUpAfter is how long to wait before nudging a firm that has not
// responded to the initial submission
const followUpAfter = 72 * time.Hour

func (followUpStage) Execute(ctx context.Context, in *Input) (*Result, error) {
	due := time.Now().Add(followUpAfter)
	return &Result{
		Confidence: 0.6,
		Summary:    fmt.Sprintf("follow-up scheduled for %s", due.Format("2006-01-02")),
		Output:     map[string]any{"follow_up_at": due.Format(time.RFC3339)},
	}, nil
}
