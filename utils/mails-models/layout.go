package mailsmodels

import "fmt"

func layout(title, content string) string {
	return fmt.Sprintf(`
	<div style="background-color: #5B21B6; width: 100%%; min-height: 300px; padding: 30px; box-sizing:border-box">
		<table style="background-color: #ffffff; width: 100%%; min-height: 300px; border-radius: 10px;">
			<tbody>
				<tr>
					<td style="padding: 20px;">
						<h1 style="text-align:center; color: #333; margin-bottom: 30px;">%s</h1>
						%s
						<div style="text-align:center; margin-bottom: 20px;">
							<p style="font-size: 16px; color: #444; margin-top: 30px;">The FanRealms team</p>
						</div>
					</td>
				</tr>
			</tbody>
		</table>
	</div>
`, title, content)
}

func paragraph(text string) string {
	return fmt.Sprintf(`<div style="text-align:center; margin-bottom: 20px;"><p style="font-size: 16px; color: #444;">%s</p></div>`, text)
}
