// Package templates provides the high-value match alert template
package templates

import "fmt"

type MatchAlertProps struct {
	LeadName        string
	Email           string
	Phone           string
	VehicleInterest string
	EstimatedValue  float64
	UTMSource       string
	UTMCampaign     string
	LandingPage     string
	Confidence      float64
	Method          string
}

func GetMatchAlertContent(props MatchAlertProps) string {
	name := props.LeadName
	if name == "" {
		name = "Unknown"
	}

	content := GetHeading("High-value lead matched") +
		GetParagraph(fmt.Sprintf("<strong>%s</strong> just submitted a lead that matched a tracked website visit.", name)) +
		GetParagraph(fmt.Sprintf("Interest: <strong>%s</strong> (est. value $%.0f)", props.VehicleInterest, props.EstimatedValue))

	if props.Email != "" {
		content += GetParagraph(fmt.Sprintf("Email: %s", props.Email))
	}
	if props.Phone != "" {
		content += GetParagraph(fmt.Sprintf("Phone: %s", props.Phone))
	}
	if props.UTMSource != "" {
		content += GetParagraph(fmt.Sprintf("Campaign: %s / %s", props.UTMSource, props.UTMCampaign))
	}
	if props.LandingPage != "" {
		content += GetParagraph(fmt.Sprintf("Landing page: %s", props.LandingPage))
	}

	content += GetParagraph(fmt.Sprintf("Match method: %s (confidence %.2f)", props.Method, props.Confidence))

	return content
}
