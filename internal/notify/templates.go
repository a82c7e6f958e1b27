package notify

import (
	"fmt"
	"html"
	"strings"
)

// PasscodeEmail renders the one-time passcode message.
func PasscodeEmail(code string, ttlMinutes int) (subject, htmlBody, textBody string) {
	subject = "Your sign-in code"
	textBody = fmt.Sprintf("Your sign-in code is %s. It expires in %d minutes.", code, ttlMinutes)
	htmlBody = fmt.Sprintf("<p>Your sign-in code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
		html.EscapeString(code), ttlMinutes)
	return
}

// StatusChangedEmail renders the order progress message.
func StatusChangedEmail(name, orderID, to, notes string) (subject, htmlBody, textBody string) {
	label := humanize(to)
	subject = fmt.Sprintf("Order %s: %s", shortID(orderID), label)
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	textBody = fmt.Sprintf("%s,\n\nYour order %s is now %s.", greeting, orderID, label)
	htmlBody = fmt.Sprintf("<p>%s,</p><p>Your order <code>%s</code> is now <strong>%s</strong>.</p>",
		html.EscapeString(greeting), html.EscapeString(orderID), html.EscapeString(label))
	if notes != "" {
		textBody += "\n\n" + notes
		htmlBody += "<p>" + html.EscapeString(notes) + "</p>"
	}
	return
}

// humanize turns "ARRIVED_AT_PORT" into "arrived at port".
func humanize(status string) string {
	return strings.ToLower(strings.ReplaceAll(status, "_", " "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
