package mailer

import (
	"bytes"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var namePolicy = bluemonday.StrictPolicy()

type codeData struct {
	Name    string
	Code    string
	Minutes int
}

const verificationText = `Hello {{.Name}},

Your verification code is {{.Code}}.
It expires in {{.Minutes}} minutes.

If you did not create an account, ignore this email.
`

const verificationHTML = `<h2>Hello {{.Name}},</h2>
<p>Your verification code is:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>It expires in {{.Minutes}} minutes.</p>
<p>If you did not create an account, ignore this email.</p>
`

const passwordChangeText = `Hello {{.Name}},

Someone asked to change the password of your account.
Confirm the change with code {{.Code}} within {{.Minutes}} minutes.

If this wasn't you, cancel the request from your account page and
consider changing your password.
`

const passwordChangeHTML = `<h3>Password change requested</h3>
<p>Hello {{.Name}},</p>
<p>Confirm the change with this code within {{.Minutes}} minutes:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>If this wasn't you, cancel the request from your account page.</p>
`

const accountExistsText = `Hello,

Someone tried to create an account with this email address, but it is
already registered. If it was you, log in instead, or change your
password from your account page.

If it wasn't you, no action is needed.
`

const accountExistsHTML = `<h3>You already have an account</h3>
<p>Someone tried to create an account with this email address, but it is already registered.</p>
<p>If it was you, log in instead, or change your password from your account page.</p>
<p>If it wasn't you, no action is needed.</p>
`

var (
	verificationTextTmpl   = texttemplate.Must(texttemplate.New("verification_text").Parse(verificationText))
	verificationHTMLTmpl   = htmltemplate.Must(htmltemplate.New("verification").Parse(verificationHTML))
	passwordChangeTextTmpl = texttemplate.Must(texttemplate.New("password_change_text").Parse(passwordChangeText))
	passwordChangeHTMLTmpl = htmltemplate.Must(htmltemplate.New("password_change").Parse(passwordChangeHTML))
	accountExistsTextTmpl  = texttemplate.Must(texttemplate.New("account_exists_text").Parse(accountExistsText))
	accountExistsHTMLTmpl  = htmltemplate.Must(htmltemplate.New("account_exists").Parse(accountExistsHTML))
)

func VerificationEmail(to, name, code string, ttl time.Duration) (Message, error) {
	return render(to, "Your verification code", verificationTextTmpl, verificationHTMLTmpl, codeData{
		Name: displayName(name), Code: code, Minutes: minutes(ttl),
	})
}

func PasswordChangeEmail(to, name, code string, ttl time.Duration) (Message, error) {
	return render(to, "Confirm your password change", passwordChangeTextTmpl, passwordChangeHTMLTmpl, codeData{
		Name: displayName(name), Code: code, Minutes: minutes(ttl),
	})
}

// AccountExistsEmail answers a sign-up for an address that is already
// registered. It carries no code.
func AccountExistsEmail(to string) (Message, error) {
	return render(to, "You already have an account", accountExistsTextTmpl, accountExistsHTMLTmpl, codeData{})
}

func render(to, subject string, text *texttemplate.Template, page *htmltemplate.Template, data codeData) (Message, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", text.Name(), err)
	}
	if err := page.Execute(&hb, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", page.Name(), err)
	}
	return Message{To: to, Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

// displayName strips markup from a user-supplied name. The result is plain
// text; html/template escapes it again for the HTML part.
func displayName(name string) string {
	name = strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
	if name == "" {
		return "there"
	}
	return name
}

func minutes(d time.Duration) int {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
