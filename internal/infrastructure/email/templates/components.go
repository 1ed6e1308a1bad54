// Package templates provides email template components for sales alerts
package templates

import "fmt"

func GetParagraph(text string) string {
	return fmt.Sprintf(`<p style="font-family: Helvetica, sans-serif; font-size: 16px; font-weight: normal; margin: 0; margin-bottom: 16px;">%s</p>`, text)
}

func GetHeading(text string) string {
	return fmt.Sprintf(`<h2 style="font-family: Helvetica, sans-serif; font-size: 20px; font-weight: bold; margin: 0; margin-bottom: 16px;">%s</h2>`, text)
}

type EmailLayoutProps struct {
	Content string
}

func GetEmailLayout(props EmailLayoutProps) string {
	return fmt.Sprintf(`
<!doctype html>
<html>
  <body style="background-color: #f6f6f6; font-family: Helvetica, sans-serif; font-size: 16px; margin: 0; padding: 0;">
    <table role="presentation" border="0" cellpadding="0" cellspacing="0" width="100%%" style="border-collapse: separate;">
      <tr>
        <td>&nbsp;</td>
        <td style="display: block; max-width: 580px; margin: 0 auto; padding: 10px;">
          <div style="background: #ffffff; border-radius: 4px; padding: 24px;">
            %s
          </div>
        </td>
        <td>&nbsp;</td>
      </tr>
    </table>
  </body>
</html>`, props.Content)
}
