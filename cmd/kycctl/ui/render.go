package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

func statusBadge(view kyc.View) string {
	style := StatusLabelStyle
	label := strings.ToUpper(view.String())
	switch view {
	case kyc.ViewApproved:
		style = style.Background(Success).Foreground(lipgloss.Color("#000000"))
	case kyc.ViewPending:
		style = style.Background(Warning).Foreground(lipgloss.Color("#000000"))
		label = "UNDER REVIEW"
	case kyc.ViewRejected:
		style = style.Background(ErrorCol)
	case kyc.ViewSpinner:
		style = style.Foreground(Muted)
		label = "CHECKING..."
	default:
		style = style.Background(Primary)
		label = "ACTION REQUIRED"
	}
	return style.Render(label)
}

func row(key, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, InfoKeyStyle.Render(key), InfoValueStyle.Render(value))
}

var viewHints = map[kyc.View]string{
	kyc.ViewSpinner:  "Checking your verification status.",
	kyc.ViewForm:     "Submit your documents with `kycctl submit` to get verified.",
	kyc.ViewPending:  "Your documents are being reviewed. This usually takes 1-2 business days.",
	kyc.ViewApproved: "Your identity is verified. You have full access to your account.",
	kyc.ViewRejected: "Your verification was not approved. Submit new documents to try again.",
}

// Status renders the viewer projection for one user.
func Status(userID string, view kyc.View, status kyc.Status) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		row("User", userID),
		row("Status", string(status)),
		"",
		statusBadge(view),
		"",
		MutedStyle.Render(viewHints[view]),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render("Identity Verification"),
		CardStyle.Render(body),
	)
}

// Staged lists the documents about to be submitted.
func Staged(docs []kyc.StagedDocument, missing []kyc.Category) string {
	lines := make([]string, 0, len(docs)+len(missing))
	for _, d := range docs {
		preview := d.Preview
		if d.Preview == kyc.PDFPreviewPlaceholder {
			preview = "PDF document"
		}
		lines = append(lines, row(string(d.Category), fmt.Sprintf("%s (%s, %s)", d.Document.Name, humanSize(d.Document.Size), preview)))
	}
	for _, c := range missing {
		lines = append(lines, row(string(c), ErrorTextStyle.Render("missing")))
	}
	if len(lines) == 0 {
		lines = append(lines, MutedStyle.Render("No documents selected."))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render("Documents"),
		CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

// Submitted renders a stored verification record.
func Submitted(record *models.KYCVerification) string {
	lines := []string{
		row("Verification", record.VerificationID),
		row("Submitted", record.SubmittedAt.Format("2006-01-02 15:04:05 MST")),
		row("Status", record.Status),
		row("Document type", record.DocumentType),
	}
	for _, p := range []struct {
		name string
		path *string
	}{
		{"ID document", record.IDDocumentPath},
		{"Utility bill", record.UtilityBillPath},
		{"Driver license", record.DriverLicensePath},
		{"Selfie", record.SelfiePath},
	} {
		value := MutedStyle.Render("not provided")
		if p.path != nil {
			value = *p.path
		}
		lines = append(lines, row(p.name, value))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render("Submission received"),
		CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func Error(err error) string {
	return ErrorTextStyle.Render("error: ") + err.Error()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
