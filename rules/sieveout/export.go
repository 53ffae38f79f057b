// Package sieveout translates a rule collection into a Sieve filter script,
// for users who want the same filtering applied server-side by their mail
// provider.
//
// The translation is lossy by design: conditions over engine-local state
// (category, priority, age, action items) and the permanently stubbed
// checks have no Sieve equivalent and are skipped with a comment, as are
// in-memory-only actions. A rule that keeps no usable condition or action
// is omitted entirely. The generated script is validated by loading it with
// the go-sieve interpreter before it is returned.
package sieveout

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve"

	"github.com/kochj23/mailsummary/rules"
)

// enabledExtensions is the extension set the generated script requires and
// is validated against.
var enabledExtensions = []string{"fileinto", "imap4flags", "envelope"}

// Export renders the given rules as a Sieve script. Disabled rules are
// skipped. The script is parsed with go-sieve before returning; a
// validation failure means a translation bug and is returned as an error.
func Export(ruleList []*rules.Rule, archiveMailbox string) (string, error) {
	if archiveMailbox == "" {
		archiveMailbox = "Archive"
	}

	var b strings.Builder
	b.WriteString("# Generated by mailsummary. Do not edit by hand.\n")
	b.WriteString(`require ["fileinto", "imap4flags"];` + "\n\n")

	exported := 0
	for _, r := range ruleList {
		if !r.Enabled {
			continue
		}
		tests := translateConditions(r, &b)
		if len(tests) == 0 {
			fmt.Fprintf(&b, "# rule %q skipped: no conditions are expressible in Sieve\n\n", r.Name)
			continue
		}
		body := translateActions(r, archiveMailbox)
		if len(body) == 0 {
			fmt.Fprintf(&b, "# rule %q skipped: no actions are expressible in Sieve\n\n", r.Name)
			continue
		}

		fmt.Fprintf(&b, "# rule: %s\n", sanitizeComment(r.Name))
		combinator := "allof"
		if r.Mode == rules.MatchAny {
			combinator = "anyof"
		}
		fmt.Fprintf(&b, "if %s (%s) {\n", combinator, strings.Join(tests, ", "))
		for _, line := range body {
			b.WriteString("    " + line + "\n")
		}
		b.WriteString("}\n\n")
		exported++
	}

	script := b.String()
	if err := validate(script); err != nil {
		return "", fmt.Errorf("generated sieve script does not parse: %w", err)
	}
	return script, nil
}

// translateConditions maps the expressible conditions of r to Sieve tests.
// Inexpressible conditions are noted as comments in b.
func translateConditions(r *rules.Rule, b *strings.Builder) []string {
	var tests []string
	for _, c := range r.Conditions {
		switch c.Kind {
		case rules.CondSenderContains:
			tests = append(tests, fmt.Sprintf(`address :all :contains "from" %s`, quote(c.Text)))
		case rules.CondSenderEquals:
			tests = append(tests, fmt.Sprintf(`address :all :is "from" %s`, quote(c.Text)))
		case rules.CondSenderDomain:
			tests = append(tests, fmt.Sprintf(`address :domain :is "from" %s`, quote(c.Text)))
		case rules.CondSubjectContains:
			tests = append(tests, fmt.Sprintf(`header :contains "subject" %s`, quote(c.Text)))
		default:
			fmt.Fprintf(b, "# rule %q: condition %s has no Sieve equivalent\n",
				sanitizeComment(r.Name), c.Kind)
		}
	}
	return tests
}

// translateActions maps the expressible actions of r to Sieve commands.
func translateActions(r *rules.Rule, archiveMailbox string) []string {
	var body []string
	for _, a := range r.Actions {
		switch a.Kind {
		case rules.ActionDelete:
			body = append(body, "discard;")
		case rules.ActionArchive:
			body = append(body, fmt.Sprintf("fileinto %s;", quote(archiveMailbox)))
		case rules.ActionMove:
			body = append(body, fmt.Sprintf("fileinto %s;", quote(a.Mailbox)))
		case rules.ActionMarkRead:
			body = append(body, `addflag "\\Seen";`)
		case rules.ActionAddTag:
			body = append(body, fmt.Sprintf("addflag %s;", quote(a.Tag)))
		case rules.ActionStop:
			body = append(body, "stop;")
		}
	}
	return body
}

func validate(script string) error {
	options := sieve.DefaultOptions()
	options.EnabledExtensions = enabledExtensions
	_, err := sieve.Load(strings.NewReader(script), options)
	return err
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func sanitizeComment(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
