// Package journey derives the display timeline of a purchase request from its
// current state. Nothing here is stored; every call recomputes the steps.
package journey

import (
	"strings"
	"time"

	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
)

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepCurrent   StepStatus = "current"
	StepFailed    StepStatus = "failed"
	StepPending   StepStatus = "pending"
)

const (
	StepIDSubmitted   = "submitted"
	StepIDApproved    = "approved"
	StepIDOrderLinked = "order-linked"
	StepIDReceipt     = "receipt"
	StepIDVerified    = "verified"
	StepIDComplete    = "complete"
)

// Detail is a label with either a text value or an image reference.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
	Image string `json:"image,omitempty"`
}

type Step struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Status    StepStatus `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Details   []Detail   `json:"details,omitempty"`
}

// Build returns the ordered steps for a request. receipts must be ordered most
// recent first; the first one is authoritative.
func Build(req *purchase.PurchaseRequest, sigs []*purchase.ApprovalSignature, receipts []*receipt.Receipt, externalOrderID *string) []Step {
	steps := []Step{submittedStep(req)}

	switch req.Status {
	case purchase.StatusRejected:
		sig := purchase.FirstSignature(sigs, purchase.ActionRejected)
		steps = append(steps,
			decisionStep("Rejected", StepFailed, sig, req.RejectionReason),
			Step{ID: StepIDReceipt, Label: "Receipt", Status: StepPending},
			Step{ID: StepIDComplete, Label: "Complete", Status: StepPending},
		)

	case purchase.StatusApproved:
		sig := purchase.FirstSignature(sigs, purchase.ActionApproved)
		steps = append(steps, decisionStep("Approved", StepCompleted, sig, nil))

		if externalOrderID != nil && *externalOrderID != "" {
			steps = append(steps, Step{
				ID:      StepIDOrderLinked,
				Label:   "Order Linked",
				Status:  StepCompleted,
				Details: []Detail{{Label: "Order", Value: *externalOrderID}},
			})
		}

		latest := receipt.Latest(receipts)
		switch {
		case latest == nil:
			steps = append(steps,
				Step{ID: StepIDReceipt, Label: "Upload Receipt", Status: StepCurrent},
				Step{ID: StepIDComplete, Label: "Complete", Status: StepPending},
			)
		case latest.Status != receipt.StatusApproved:
			steps = append(steps,
				receiptStep(latest),
				Step{ID: StepIDVerified, Label: "Under Review", Status: StepCurrent},
				Step{ID: StepIDComplete, Label: "Complete", Status: StepPending},
			)
		default:
			completedAt := latest.UploadedAt
			steps = append(steps,
				receiptStep(latest),
				Step{ID: StepIDComplete, Label: "Complete", Status: StepCompleted, Timestamp: &completedAt},
			)
		}

	default:
		steps = append(steps,
			Step{ID: StepIDApproved, Label: "Pending Approval", Status: StepCurrent},
			Step{ID: StepIDReceipt, Label: "Receipt", Status: StepPending},
			Step{ID: StepIDComplete, Label: "Complete", Status: StepPending},
		)
	}

	return steps
}

func submittedStep(req *purchase.PurchaseRequest) Step {
	step := Step{
		ID:        StepIDSubmitted,
		Label:     "Submitted",
		Status:    StepCompleted,
		Timestamp: req.SignedOrSubmittedAt(),
		Details: []Detail{
			{Label: "Requested by", Value: req.RequesterName},
			{Label: "Vendor", Value: req.VendorName},
			{Label: "Total", Value: "$" + req.TotalAmount.StringFixed(2)},
		},
	}
	if req.EmployeeSignatureRef != nil {
		step.Details = append(step.Details, Detail{Label: "Employee signature", Image: *req.EmployeeSignatureRef})
	}
	return step
}

func decisionStep(label string, status StepStatus, sig *purchase.ApprovalSignature, reason *string) Step {
	step := Step{ID: StepIDApproved, Label: label, Status: status}
	if sig == nil {
		return step
	}
	signedAt := sig.SignedAt
	step.Timestamp = &signedAt

	by := sig.ApproverName
	if sig.ApproverTitle != "" {
		by += ", " + sig.ApproverTitle
	}
	step.Details = append(step.Details, Detail{Label: "By", Value: by})
	if reason != nil && *reason != "" {
		step.Details = append(step.Details, Detail{Label: "Reason", Value: *reason})
	}
	if sig.Comment != nil && *sig.Comment != "" {
		step.Details = append(step.Details, Detail{Label: "Comment", Value: *sig.Comment})
	}
	if sig.SignatureRef != nil {
		step.Details = append(step.Details, Detail{Label: "Signature", Image: *sig.SignatureRef})
	}
	return step
}

func receiptStep(r *receipt.Receipt) Step {
	uploadedAt := r.UploadedAt
	details := []Detail{{Label: "Source", Value: string(r.Source)}}
	if r.FileName != "" {
		details = append(details, Detail{Label: "File", Value: r.FileName})
	}
	if strings.HasPrefix(r.ContentType, "image/") {
		details = append(details, Detail{Label: "Receipt", Image: r.FileKey})
	}
	return Step{
		ID:        StepIDReceipt,
		Label:     "Receipt Uploaded",
		Status:    StepCompleted,
		Timestamp: &uploadedAt,
		Details:   details,
	}
}
