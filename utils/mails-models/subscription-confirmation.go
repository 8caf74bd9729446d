package mailsmodels

import (
	"fmt"
	"html"

	"fanrealms-backend/utils"
)

type SubscriptionConfirmationData struct {
	Email       string
	UserName    string
	CreatorName string
	TierTitle   string
}

func SubscriptionConfirmation(data SubscriptionConfirmationData) error {
	subject := fmt.Sprintf("Welcome to %s on FanRealms", data.CreatorName)
	body := layout("Subscription confirmed",
		paragraph(fmt.Sprintf("Hello %s,", html.EscapeString(data.UserName)))+
			paragraph(fmt.Sprintf("You are now subscribed to <b>%s</b> (%s).",
				html.EscapeString(data.CreatorName), html.EscapeString(data.TierTitle))))
	return utils.SendMail(data.Email, subject, body)
}
