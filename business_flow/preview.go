package businessflow

import (
	"fmt"
	"strings"

	"github.com/amirphl/funnel-campaigns/models"
)

// renderReport summarizes how a template renders over a segment
type renderReport struct {
	Count           int
	TemplateLength  int
	MaxLength       int
	Overflow        int
	MissingContacts int
	Unresolved      []string
}

// inspectRendering renders tpl for every lead and counts the problems the scheduler would hit.
// maxLength only applies to SMS.
func inspectRendering(channel models.Channel, tpl string, leads []*models.Lead, maxLength int) renderReport {
	report := renderReport{
		Count:          len(leads),
		TemplateLength: InspectTemplate(tpl).RawLength,
	}
	if channel == models.ChannelSMS {
		report.MaxLength = maxLength
	}

	seen := make(map[string]bool)
	for _, lead := range leads {
		if lead.Recipient(channel) == "" {
			report.MissingContacts++
		}
		r := Render(tpl, lead)
		if report.MaxLength > 0 && r.Length() > report.MaxLength {
			report.Overflow++
		}
		for _, name := range r.Unresolved {
			if !seen[name] {
				seen[name] = true
				report.Unresolved = append(report.Unresolved, name)
			}
		}
	}
	return report
}

func (r renderReport) warnings() []string {
	var out []string
	if r.Overflow > 0 {
		out = append(out, fmt.Sprintf("%d of %d messages exceed %d characters after substitution and will fail", r.Overflow, r.Count, r.MaxLength))
	}
	if r.MissingContacts > 0 {
		out = append(out, fmt.Sprintf("%d leads have no contact for this channel and will fail", r.MissingContacts))
	}
	if len(r.Unresolved) > 0 {
		out = append(out, fmt.Sprintf("placeholders left unresolved for some leads: %s", strings.Join(r.Unresolved, ", ")))
	}
	return out
}
