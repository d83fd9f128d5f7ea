// File: internal/config/compose_config.go
// Candidate data for the webmail compose form. The host UI is undocumented and
// changes without notice, so every list here can be overridden from the config
// file without touching the locator code.
package config

import "github.com/spf13/viper"

var (
	defaultBodySelectors = []string{
		`div[aria-label="Message Body"]`,
		`div[contenteditable="true"][aria-label="Message Body"]`,
		`div[contenteditable="true"][role="textbox"]`,
		`div[g_editable="true"]`,
		`.editable[contenteditable="true"]`,
		`div[aria-label*="Message" i][contenteditable="true"]`,
		`div[role="textbox"][contenteditable="true"]`,
		`div.Am.Al.editable`,
		`div[dir="ltr"][contenteditable="true"]`,
		`[contenteditable="true"]:not([aria-label*="To"]):not([aria-label*="Subject"])`,
	}

	defaultRecipientSelectors = []string{
		`textarea[name="to"]`,
		`input[name="to"]`,
		`div[data-name="to"] textarea`,
		`div[data-name="to"] input`,
		`input[aria-label*="To" i]`,
		`textarea[aria-label*="To" i]`,
		`input[placeholder*="Recipients" i]`,
		`textarea[placeholder*="Recipients" i]`,
		`div[role="combobox"][aria-label*="To" i]`,
		`div[role="textbox"][aria-label*="To" i]`,
		`div.aoD.hl input`,
		`div.aoD.hl textarea`,
		`div[jsname] input[email]`,
		`div[jsname] textarea[email]`,
		`input[type="email"]`,
		`textarea[type="email"]`,
		`input[dir="ltr"]`,
		`textarea[dir="ltr"]`,
	}

	defaultSubjectSelectors = []string{
		`input[name="subjectbox"]`,
		`input[placeholder*="Subject" i]`,
		`input[aria-label*="Subject" i]`,
		`input[name="subject"]`,
		`textarea[name="subject"]`,
		`input[id*="subject" i]`,
		`textarea[id*="subject" i]`,
		`div[role="textbox"][aria-label*="Subject" i]`,
		`div.aoT input`,
		`div.aoT textarea`,
		`input[data-initial-value]`,
		`input[dir="ltr"][class*="Ar"]`,
	}
)

func setComposeDefaults(v *viper.Viper) {
	v.SetDefault("compose.body.selectors", defaultBodySelectors)
	v.SetDefault("compose.body.detect", defaultBodySelectors[:5])
	v.SetDefault("compose.body.keywords", []string{"message body", "body"})
	v.SetDefault("compose.body.min_width", 200.0)
	v.SetDefault("compose.body.min_height", 50.0)

	v.SetDefault("compose.recipient.selectors", defaultRecipientSelectors)
	v.SetDefault("compose.recipient.detect", []string{
		`input[aria-label*="To" i]`,
		`textarea[aria-label*="To" i]`,
		`input[name="to"]`,
		`textarea[name="to"]`,
	})
	v.SetDefault("compose.recipient.keywords", []string{"recipients", "recipient", "to"})
	v.SetDefault("compose.recipient.min_width", 10.0)
	v.SetDefault("compose.recipient.min_height", 10.0)

	v.SetDefault("compose.subject.selectors", defaultSubjectSelectors)
	v.SetDefault("compose.subject.detect", []string{
		`input[aria-label*="Subject" i]`,
		`input[name="subject"]`,
		`input[name="subjectbox"]`,
	})
	v.SetDefault("compose.subject.keywords", []string{"subject"})
	v.SetDefault("compose.subject.min_width", 10.0)
	v.SetDefault("compose.subject.min_height", 10.0)
}
