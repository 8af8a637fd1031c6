package sponsorships

import (
	"fmt"
	"strings"

	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/pkg/pdf"
)

func renderCertificate(sp *Sponsorship, project *inventory.Project) ([]byte, error) {
	opts := pdf.DefaultOptions()
	opts.Title = "Certificate of Tree Sponsorship"
	opts.Subtitle = project.Name
	opts.Footer = *sp.CertificateNumber
	if sp.CertificateIssued != nil {
		opts.CreatedAt = *sp.CertificateIssued
	}

	doc := pdf.New(opts)
	doc.Paragraph(fmt.Sprintf(
		"This certifies that sponsor %s has funded the planting of %d trees at %s.",
		sp.SponsorID, sp.TreeCount, locationOf(sp, project),
	))

	species := "mixed"
	if len(sp.Species) > 0 {
		species = strings.Join(sp.Species, ", ")
	}
	issued := ""
	if sp.CertificateIssued != nil {
		issued = sp.CertificateIssued.Format("2 January 2006")
	}
	doc.Heading("Sponsorship")
	doc.Fields([]pdf.Field{
		{Label: "Certificate number", Value: *sp.CertificateNumber},
		{Label: "Issued", Value: issued},
		{Label: "Trees", Value: fmt.Sprintf("%d", sp.TreeCount)},
		{Label: "Species", Value: species},
		{Label: "Contribution", Value: sp.TotalAmount.StringFixed(2) + " " + sp.Currency},
		{Label: "Estimated offset", Value: sp.EstimatedCO2Offset.StringFixed(2) + " kg CO2 / year"},
		{Label: "Absorbed to date", Value: sp.TotalCO2ToDate().StringFixed(2) + " kg CO2"},
	})

	if len(sp.Updates) > 0 {
		doc.Heading("Growth reports")
		rows := make([][]string, 0, len(sp.Updates))
		for _, u := range sp.Updates {
			rows = append(rows, []string{
				u.RecordedAt.Format("2006-01-02"),
				u.GrowthStage,
				u.CO2Absorbed.StringFixed(2),
				u.Note,
			})
		}
		doc.Table([]string{"Date", "Stage", "CO2 (kg)", "Note"}, rows)
	}

	return doc.Bytes()
}

func locationOf(sp *Sponsorship, project *inventory.Project) string {
	switch {
	case sp.Location != "":
		return sp.Location
	case project.Location != "":
		return project.Location
	}
	return project.Name
}
